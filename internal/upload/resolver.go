package upload

import (
	"context"
	"sync"
)

// ConfigResolver produces the upload configuration for a file. It returns
// either an already settled Resolution or one that settles later. A nil
// Resolution is treated as a resolver failure.
type ConfigResolver func(f *File) *Resolution

// Resolution is the outcome of a config resolution, possibly still pending
type Resolution struct {
	done chan struct{}
	once sync.Once
	cfg  UploadConfig
	err  error
}

// NewResolution returns a pending resolution and the function settling it.
// Only the first call to settle has an effect.
func NewResolution() (*Resolution, func(UploadConfig, error)) {
	r := &Resolution{done: make(chan struct{})}
	return r, r.settle
}

// Resolved returns a settled successful resolution
func Resolved(cfg UploadConfig) *Resolution {
	r, settle := NewResolution()
	settle(cfg, nil)
	return r
}

// Rejected returns a settled failed resolution
func Rejected(err error) *Resolution {
	r, settle := NewResolution()
	settle(UploadConfig{}, err)
	return r
}

func (r *Resolution) settle(cfg UploadConfig, err error) {
	r.once.Do(func() {
		r.cfg = cfg
		r.err = err
		close(r.done)
	})
}

// Done is closed once the resolution settles
func (r *Resolution) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether the result is available without waiting
func (r *Resolution) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Result returns the settled config. It must only be called after Done is closed.
func (r *Resolution) Result() (UploadConfig, error) {
	return r.cfg, r.err
}

// Static always resolves to cfg
func Static(cfg UploadConfig) ConfigResolver {
	return func(*File) *Resolution {
		return Resolved(cfg)
	}
}

// FromFunc resolves synchronously through fn
func FromFunc(fn func(f *File) UploadConfig) ConfigResolver {
	return func(f *File) *Resolution {
		return Resolved(fn(f))
	}
}

// Async resolves on a separate goroutine through fn
func Async(ctx context.Context, fn func(ctx context.Context, f *File) (UploadConfig, error)) ConfigResolver {
	return func(f *File) *Resolution {
		r, settle := NewResolution()
		go func() {
			settle(fn(ctx, f))
		}()
		return r
	}
}

// WithFallback fills every unset field of the resolved config from base
func WithFallback(base UploadConfig, next ConfigResolver) ConfigResolver {
	return func(f *File) *Resolution {
		inner := next(f)
		if inner == nil {
			return nil
		}
		r, settle := NewResolution()
		merge := func() {
			cfg, err := inner.Result()
			if err != nil {
				settle(UploadConfig{}, err)
				return
			}
			settle(mergeConfig(base, cfg), nil)
		}
		if inner.Settled() {
			merge()
			return r
		}
		go func() {
			<-inner.Done()
			merge()
		}()
		return r
	}
}

func mergeConfig(base, cfg UploadConfig) UploadConfig {
	if cfg.URL == "" {
		cfg.URL = base.URL
	}
	if cfg.Method == "" {
		cfg.Method = base.Method
	}
	if cfg.Headers == nil {
		cfg.Headers = base.Headers
	}
	if !cfg.Batch {
		cfg.Batch = base.Batch
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = base.PartSize
	}
	if cfg.MaxParts == 0 {
		cfg.MaxParts = base.MaxParts
	}
	return cfg
}
