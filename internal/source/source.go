package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"uploadflow/internal/upload"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Opened is a local file ready to be queued. Close releases the handle once
// the file is no longer needed.
type Opened struct {
	File *upload.File
	f    *os.File
}

func (o *Opened) Close() error {
	return o.f.Close()
}

// Open opens path for upload and detects its content type
func Open(path string) (*Opened, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("detect content type of %s: %w", path, err)
	}

	return &Opened{
		File: &upload.File{
			ID:          uuid.NewString(),
			Name:        filepath.Base(path),
			Size:        info.Size(),
			ContentType: mtype.String(),
			Source:      f,
		},
		f: f,
	}, nil
}

// OpenAll opens every path. On error the files opened so far are closed.
func OpenAll(paths []string) ([]*Opened, error) {
	out := make([]*Opened, 0, len(paths))
	for _, p := range paths {
		o, err := Open(p)
		if err != nil {
			return nil, errors.Join(err, CloseAll(out))
		}
		out = append(out, o)
	}
	return out, nil
}

func CloseAll(files []*Opened) error {
	var errs []error
	for _, o := range files {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
