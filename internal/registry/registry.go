// Package registry maps opaque handles to staged temporary files and purges
// entries that outlive their TTL.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mediascribe/internal/pathguard"
)

const DefaultTTL = 30 * time.Minute

var ErrNotFound = errors.New("handle not found")

type Entry struct {
	Handle    string
	Path      string
	CreatedAt time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithHandleGenerator(gen func() string) Option {
	return func(r *Registry) { r.newHandle = gen }
}

// WithRemover replaces os.Remove for swept files.
func WithRemover(remove func(string) error) Option {
	return func(r *Registry) { r.remove = remove }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSweepObserver is called with the number of entries each sweep removed.
func WithSweepObserver(observer func(removed int)) Option {
	return func(r *Registry) { r.onSweep = observer }
}

type Registry struct {
	root      string
	ttl       time.Duration
	now       func() time.Time
	newHandle func() string
	remove    func(string) error
	logger    *slog.Logger
	onSweep   func(int)

	mu      sync.Mutex
	entries map[string]Entry
}

func New(root string, ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		root:      root,
		ttl:       ttl,
		now:       time.Now,
		newHandle: NewHandle,
		remove:    os.Remove,
		logger:    slog.Default(),
		entries:   make(map[string]Entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NewHandle returns 128 random bits as lowercase hex.
func NewHandle() string {
	var b [16]byte
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (r *Registry) Root() string { return r.root }

func (r *Registry) TTL() time.Duration { return r.ttl }

// Put registers path under a fresh handle and sweeps expired entries.
func (r *Registry) Put(path string) (string, error) {
	if err := pathguard.Validate(path, r.root); err != nil {
		return "", fmt.Errorf("registry: %w", err)
	}

	now := r.now()
	r.mu.Lock()
	handle := r.newHandle()
	for attempts := 0; ; attempts++ {
		if _, taken := r.entries[handle]; !taken {
			break
		}
		if attempts >= 8 {
			r.mu.Unlock()
			return "", errors.New("registry: could not allocate a unique handle")
		}
		handle = r.newHandle()
	}
	r.entries[handle] = Entry{Handle: handle, Path: path, CreatedAt: now}
	r.mu.Unlock()

	r.Sweep(now, r.ttl)
	return handle, nil
}

func (r *Registry) Resolve(handle string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[handle]
	if !ok {
		return "", ErrNotFound
	}
	return entry.Path, nil
}

func (r *Registry) Remove(handle string) {
	r.mu.Lock()
	delete(r.entries, handle)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops every entry whose age is at least ttl and deletes its backing
// file once it passes the path guard. File deletion failures are logged and
// otherwise ignored.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	var expired []Entry
	for handle, entry := range r.entries {
		if now.Sub(entry.CreatedAt) >= ttl {
			expired = append(expired, entry)
			delete(r.entries, handle)
		}
	}
	r.mu.Unlock()

	for _, entry := range expired {
		if _, err := os.Lstat(entry.Path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := pathguard.Validate(entry.Path, r.root); err != nil {
			r.logger.Warn("security violation: expired entry points outside storage root, not deleting", "handle", entry.Handle, "path", entry.Path, "error", err)
			continue
		}
		if err := r.remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("remove expired file failed", "handle", entry.Handle, "path", entry.Path, "error", err)
			continue
		}
		r.logger.Info("expired file removed", "handle", entry.Handle, "age", now.Sub(entry.CreatedAt).Round(time.Second).String())
	}
	if r.onSweep != nil && len(expired) > 0 {
		r.onSweep(len(expired))
	}
	return len(expired)
}
