package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"uploadflow/internal/response"
	"uploadflow/internal/s3"
	"uploadflow/internal/upload"

	"github.com/google/uuid"
)

// HandleFile serves the file resource at /files/{key...}:
//
//	POST   ?uploads&size=S&partSize=P    create a multipart session
//	PUT    ?uploadId=ID&partNumber=N     store part N (0-based)
//	GET    ?uploadId=ID                  session status
//	POST   ?uploadId=ID                  finalize the session
//	DELETE ?uploadId=ID                  abort the session
//	POST|PUT                             store the whole body directly
func (s *Server) HandleFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest, "object key is required", "Expected /files/{key}")
		return
	}
	q := r.URL.Query()

	if r.Method == http.MethodPost && q.Has("uploads") {
		s.handleCreate(w, r, key)
		return
	}

	if id := q.Get("uploadId"); id != "" {
		sess, ok := s.sessions.get(id)
		if !ok || sess.key != key {
			response.Error(w, http.StatusNotFound, response.ErrNotFound, fmt.Sprintf("No upload session: %s", id), "Sessions expire; start a new upload")
			return
		}
		switch r.Method {
		case http.MethodPut:
			s.handlePart(w, r, sess)
		case http.MethodGet:
			response.JSON(w, http.StatusOK, sess.status())
		case http.MethodPost:
			s.handleFinalize(w, r, sess)
		case http.MethodDelete:
			s.handleAbort(w, r, sess)
		default:
			response.Error(w, http.StatusMethodNotAllowed, response.ErrBadRequest, "Method not allowed", "")
		}
		return
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut:
		s.handleDirect(w, r, key)
	default:
		response.Error(w, http.StatusMethodNotAllowed, response.ErrBadRequest, "Method not allowed", "")
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, key string) {
	q := r.URL.Query()
	size, err := strconv.ParseInt(q.Get("size"), 10, 64)
	if err != nil || size <= 0 {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest, "size must be greater than 0", "")
		return
	}
	partSize, err := strconv.ParseInt(q.Get("partSize"), 10, 64)
	if err != nil || partSize <= 0 {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest, "partSize must be greater than 0", "")
		return
	}
	plan, err := upload.PlanParts(size, partSize, s.cfg.MaxParts)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest, err.Error(), "")
		return
	}
	if !plan.Direct && plan.PartSize != partSize {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest,
			fmt.Sprintf("too many parts: %d bytes in parts of %d exceeds %d parts", size, partSize, s.cfg.MaxParts),
			fmt.Sprintf("Use a part size of at least %d", plan.PartSize))
		return
	}

	uploadID, err := s.store.CreateMultipartUpload(r.Context(), key, r.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Error("create multipart upload failed", "key", key, "error", err)
		response.Error(w, http.StatusBadGateway, response.ErrStorage, "Failed to create multipart upload", "")
		return
	}

	last := (size+partSize-1)/partSize - 1
	sess := &session{
		id:          uuid.NewString(),
		key:         key,
		uploadID:    uploadID,
		contentType: r.Header.Get("Content-Type"),
		parts:       make(map[int]partRecord),
	}
	sess.layout = upload.MultipartSession{
		PartSize:       partSize,
		LastPartNumber: int(last),
		LastPartSize:   size - last*partSize,
		Links:          upload.SessionLinks{Self: selfLink(r, key, sess.id)},
	}
	s.sessions.add(sess)

	s.logger.Info("multipart session created", "session_id", sess.id, "key", key,
		"size", size, "parts", sess.layout.PartCount())
	response.JSON(w, http.StatusCreated, sess.layout)
}

func (s *Server) handlePart(w http.ResponseWriter, r *http.Request, sess *session) {
	index, err := strconv.Atoi(r.URL.Query().Get("partNumber"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest, "partNumber is required", "")
		return
	}
	expected := sess.expectedSize(index)
	if expected < 0 {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest,
			fmt.Sprintf("partNumber %d out of range [0, %d]", index, sess.layout.LastPartNumber), "")
		return
	}
	if r.ContentLength < 0 {
		response.Error(w, http.StatusLengthRequired, response.ErrLengthRequired, "Content-Length is required", "")
		return
	}
	if r.ContentLength != expected {
		response.Error(w, http.StatusBadRequest, response.ErrBadRequest,
			fmt.Sprintf("part %d must be %d bytes, got %d", index, expected, r.ContentLength), "")
		return
	}

	sess.mu.Lock()
	open := sess.state == sessionOpen
	sess.mu.Unlock()
	if !open {
		response.Error(w, http.StatusConflict, response.ErrConflict, "Session is no longer open", "")
		return
	}

	etag, err := s.store.UploadPart(r.Context(), sess.key, sess.uploadID, int32(index+1), r.Body, expected)
	if err != nil {
		s.logger.Error("upload part failed", "session_id", sess.id, "part", index, "error", err)
		s.storageError(w, err)
		return
	}

	sess.mu.Lock()
	sess.parts[index] = partRecord{etag: etag, size: expected}
	sess.mu.Unlock()

	response.JSON(w, http.StatusOK, map[string]any{"part_number": index, "etag": etag})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request, sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case sessionCompleted:
		response.JSON(w, http.StatusOK, upload.FinalizeResult{Completed: true})
		return
	case sessionAborted:
		response.Error(w, http.StatusConflict, response.ErrConflict, "Session was aborted", "")
		return
	}
	if want := sess.layout.PartCount(); len(sess.parts) != want {
		response.Error(w, http.StatusConflict, response.ErrConflict,
			fmt.Sprintf("Session has %d of %d parts", len(sess.parts), want), "Upload the missing parts before finalizing")
		return
	}

	if err := s.store.CompleteMultipartUpload(r.Context(), sess.key, sess.uploadID, sess.completedParts()); err != nil {
		s.logger.Error("complete multipart upload failed", "session_id", sess.id, "error", err)
		s.storageError(w, err)
		return
	}
	sess.state = sessionCompleted

	s.logger.Info("multipart session completed", "session_id", sess.id, "key", sess.key)
	response.JSON(w, http.StatusOK, upload.FinalizeResult{Completed: true})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request, sess *session) {
	sess.mu.Lock()
	if sess.state == sessionCompleted {
		sess.mu.Unlock()
		response.Error(w, http.StatusConflict, response.ErrConflict, "Session already completed", "")
		return
	}
	if sess.state == sessionOpen {
		if err := s.store.AbortMultipartUpload(r.Context(), sess.key, sess.uploadID); err != nil && !errors.Is(err, s3.ErrNoSuchUpload) {
			sess.mu.Unlock()
			s.logger.Error("abort multipart upload failed", "session_id", sess.id, "error", err)
			s.storageError(w, err)
			return
		}
		sess.state = sessionAborted
	}
	sess.mu.Unlock()
	s.sessions.remove(sess.id)

	s.logger.Info("multipart session aborted", "session_id", sess.id, "key", sess.key)
	response.JSON(w, http.StatusOK, map[string]string{"status": "aborted", "upload_id": sess.id})
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request, key string) {
	if r.ContentLength < 0 {
		response.Error(w, http.StatusLengthRequired, response.ErrLengthRequired, "Content-Length is required", "")
		return
	}
	if err := s.store.PutObject(r.Context(), key, r.Body, r.ContentLength, r.Header.Get("Content-Type")); err != nil {
		s.logger.Error("put object failed", "key", key, "error", err)
		s.storageError(w, err)
		return
	}
	s.logger.Info("object stored", "key", key, "size", r.ContentLength)
	response.JSON(w, http.StatusCreated, map[string]any{"key": key, "size": r.ContentLength})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, s3.ErrNoSuchUpload) {
		response.Error(w, http.StatusNotFound, response.ErrNotFound, err.Error(), "")
		return
	}
	response.Error(w, http.StatusBadGateway, response.ErrStorage, "Storage request failed", "")
}

// selfLink builds the absolute session URL from the incoming request
func selfLink(r *http.Request, key, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     "/files/" + key,
		RawQuery: url.Values{"uploadId": {id}}.Encode(),
	}
	return u.String()
}
