package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

// Conn is a push-capable channel to one client.
type Conn interface {
	Send(msg any) error
	Close(code int, reason string)
}

// CloseGoingAway is used when a connection is dropped after a failed send.
const CloseGoingAway = 1001

// Registry maps keys to live connections. The last Connect for a key wins.
type Registry[K comparable] struct {
	mu     sync.RWMutex
	conns  map[K]Conn
	name   string
	logger *zap.Logger
}

func New[K comparable](name string, logger *zap.Logger) *Registry[K] {
	return &Registry[K]{
		conns:  make(map[K]Conn),
		name:   name,
		logger: obslog.Or(logger),
	}
}

// Connect registers conn for key and returns the connection it replaced, if any.
func (r *Registry[K]) Connect(key K, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[key]
	r.conns[key] = conn
	r.mu.Unlock()
	return prev
}

// Disconnect removes key. It is a no-op when absent.
func (r *Registry[K]) Disconnect(key K) {
	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

// Release removes key only if conn is still the registered connection. It
// reports whether anything was removed.
func (r *Registry[K]) Release(key K, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[key]; ok && cur == conn {
		delete(r.conns, key)
		return true
	}
	return false
}

func (r *Registry[K]) Get(key K) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[key]
	r.mu.RUnlock()
	return c, ok
}

func (r *Registry[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers msg best-effort. A failed send drops and closes the
// connection; the result reports whether the message was handed off.
func (r *Registry[K]) Send(key K, msg any) bool {
	conn, ok := r.Get(key)
	if !ok {
		return false
	}
	if err := conn.Send(msg); err != nil {
		r.logger.Warn("registry_send_failed",
			zap.String("registry", r.name),
			zap.Any("key", key),
			zap.Error(err),
		)
		if r.Release(key, conn) {
			conn.Close(CloseGoingAway, "send failed")
		}
		return false
	}
	return true
}
