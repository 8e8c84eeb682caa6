package upload

import (
	"io"
	"net/http"
)

// Status is the lifecycle state of a file handled by the scheduler
type Status string

const (
	StatusQueued       Status = "queued"
	StatusResolving    Status = "resolving-config"
	StatusInitiating   Status = "initiating"
	StatusTransferring Status = "transferring"
	StatusUploading    Status = "uploading"
	StatusVerifying    Status = "verifying"
	StatusUploaded     Status = "uploaded"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition can happen from s
func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusFailed
}

// File is a local file queued for upload
type File struct {
	ID          string
	Name        string
	Size        int64
	ContentType string
	Source      io.ReaderAt
}

// Header is a single request header, kept as an ordered list like the
// upload profiles declare them
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// UploadConfig is the resolved per-file destination and part layout
type UploadConfig struct {
	URL      string
	Method   string
	Headers  []Header
	Batch    bool
	PartSize int64
	MaxParts int
}

const (
	DefaultPartSize int64 = 10 * 1024 * 1024
	DefaultMaxParts       = 10000
	DefaultMethod         = http.MethodPost
)

func (c UploadConfig) withDefaults() UploadConfig {
	if c.Method == "" {
		c.Method = DefaultMethod
	}
	if c.PartSize == 0 {
		c.PartSize = DefaultPartSize
	}
	if c.MaxParts == 0 {
		c.MaxParts = DefaultMaxParts
	}
	return c
}

// SessionLinks holds the hypermedia links of a multipart session
type SessionLinks struct {
	Self string `json:"self"`
}

// MultipartSession is returned by the server when a multipart upload is initiated
type MultipartSession struct {
	PartSize       int64        `json:"part_size"`
	LastPartNumber int          `json:"last_part_number"`
	LastPartSize   int64        `json:"last_part_size"`
	Links          SessionLinks `json:"links"`
}

// PartCount is the number of parts the server expects
func (s *MultipartSession) PartCount() int {
	return s.LastPartNumber + 1
}

// Part returns the byte range of part index
func (s *MultipartSession) Part(index int) PartDescriptor {
	size := s.PartSize
	if index == s.LastPartNumber {
		size = s.LastPartSize
	}
	return PartDescriptor{
		Index:  index,
		Offset: int64(index) * s.PartSize,
		Size:   size,
	}
}

// SessionStatus is the body of a session status read
type SessionStatus struct {
	Parts     []SessionPart `json:"parts"`
	Completed bool          `json:"completed"`
}

// SessionPart is one received part as reported by the server
type SessionPart struct {
	PartNumber int    `json:"part_number"`
	Checksum   string `json:"checksum,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// FinalizeResult is the body of a session finalize response
type FinalizeResult struct {
	Completed bool `json:"completed"`
}

// PartState tracks where a part index currently lives
type PartState string

const (
	PartPending   PartState = "pending"
	PartInFlight  PartState = "in-flight"
	PartConfirmed PartState = "confirmed"
)

// PartDescriptor describes one part of a multipart session
type PartDescriptor struct {
	Index  int
	Offset int64
	Size   int64
	State  PartState
}

// Request is a single transport call
type Request struct {
	Method  string
	URL     string
	Headers []Header
	Body    io.Reader
	Size    int64
}

// Response is what the transport returns for a completed call
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// EventType identifies a notification emitted by the scheduler
type EventType string

const (
	EventUploading        EventType = "uploading"
	EventUploaded         EventType = "uploaded"
	EventFailed           EventType = "failed"
	EventMultipartStarted EventType = "multipart-started"
	EventFactoryFailed    EventType = "factory-failed"
	EventProgressBytes    EventType = "progress-bytes"
	EventProgressParts    EventType = "progress-parts"
)

// Event is delivered to the configured Notifier
type Event struct {
	Type     EventType
	File     *File
	Session  *MultipartSession
	Response *Response
	Err      error
	// Done and Total are bytes for EventProgressBytes and parts for EventProgressParts
	Done  int64
	Total int64
}
