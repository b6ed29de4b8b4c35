// Package delivery hands finished single downloads to HTTP clients through
// short-lived one-shot handles.
package delivery

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TTL is how long a handle stays claimable before the file is reaped.
const TTL = 600 * time.Second

var (
	// ErrNotFound covers unknown, expired and already-claimed handles.
	ErrNotFound = errors.New("delivery not found")
)

// Handle is one claimable download.
type Handle struct {
	ID        string
	Path      string
	Filename  string
	ExpiresAt time.Time
	claimed   bool
}

// Registry tracks pending deliveries. Claiming a handle is one-shot, the
// second request for the same id gets ErrNotFound.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	logger  *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{handles: map[string]*Handle{}, logger: logger}
}

// Publish registers a finished file and returns its handle.
func (r *Registry) Publish(path, filename string) *Handle {
	h := &Handle{
		ID:        uuid.NewString(),
		Path:      path,
		Filename:  filename,
		ExpiresAt: time.Now().Add(TTL),
	}
	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()
	r.logger.Info("Delivery published", "delivery_id", h.ID, "filename", filename)
	return h
}

// Peek returns handle metadata without consuming it.
func (r *Registry) Peek(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok || h.claimed || time.Now().After(h.ExpiresAt) {
		return nil, ErrNotFound
	}
	copy := *h
	return &copy, nil
}

// Claim consumes a handle. The caller is responsible for streaming and
// then removing the file.
func (r *Registry) Claim(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok || h.claimed || time.Now().After(h.ExpiresAt) {
		return nil, ErrNotFound
	}
	h.claimed = true
	copy := *h
	return &copy, nil
}

// Release drops a handle and deletes its file if still present.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if ok {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Could not remove delivered file", "path", h.Path, "error", err)
		}
	}
}

// Sweep removes expired or claimed handles along with their files and
// returns how many were reaped.
func (r *Registry) Sweep() int {
	now := time.Now()
	r.mu.Lock()
	var expired []*Handle
	for id, h := range r.handles {
		if h.claimed || now.After(h.ExpiresAt) {
			expired = append(expired, h)
			delete(r.handles, id)
		}
	}
	r.mu.Unlock()

	for _, h := range expired {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Could not remove expired delivery", "path", h.Path, "error", err)
		} else {
			r.logger.Info("Delivery reaped", "delivery_id", h.ID)
		}
	}
	return len(expired)
}
