package bucache

import (
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Option configures Open and Erase.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	resolver    RootResolver
	maxKeySize  int
	verify      bool
	cpuCount    func() int
	readTimeout time.Duration
	openTimeout time.Duration
	fileMode    os.FileMode
	dirMode     os.FileMode
	readOnly    bool
}

func defaultOptions() *options {
	return &options{
		logger:      slog.Default(),
		resolver:    DefaultResolver{App: DefaultAppName},
		maxKeySize:  DefaultMaxKeySize,
		verify:      true,
		cpuCount:    runtime.NumCPU,
		readTimeout: ReadTimeout,
		openTimeout: DefaultOpenTimeout,
		fileMode:    DefaultFileMode,
		dirMode:     DefaultDirMode,
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithResolver sets how the cache root directory is found.
func WithResolver(r RootResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithRoot pins the cache root directory.
func WithRoot(dir string) Option {
	return WithResolver(DirResolver(dir))
}

// WithMaxKeySize sets the engine key limit. Values below KeyMaxLen make
// every keyed operation fail with ErrIncompatible.
func WithMaxKeySize(n int) Option {
	return func(o *options) {
		o.maxKeySize = n
	}
}

// WithoutVerify disables the read-back check after auto-committed writes.
func WithoutVerify() Option {
	return func(o *options) {
		o.verify = false
	}
}

// WithCPUCount replaces the CPU detector used to size the reader table.
func WithCPUCount(fn func() int) Option {
	return func(o *options) {
		if fn != nil {
			o.cpuCount = fn
		}
	}
}

// WithReadTimeout bounds the wait for a reader slot.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithOpenTimeout bounds the wait for the backing file lock, which is
// held by any other process that has the same cache open.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithFileMode sets the permission of the backing file.
func WithFileMode(mode os.FileMode) Option {
	return func(o *options) {
		o.fileMode = mode
	}
}

// WithReadOnly opens the cache without write access. Any number of
// processes may hold a cache open read-only at once; a read-write open
// in another process waits for all of them, and they for it. Writes
// fail with ErrReadOnly.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}
