package apmz

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDPool hands out pre-generated trace ids so StartTrace does not pay for
// crypto/rand on the request path.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a pool holding up to capacity ids built by factory.
// A nil factory generates random UUIDs.
func NewIDPool(capacity int, factory func() string) *IDPool {
	if factory == nil {
		factory = newTraceID
	}
	if capacity < 1 {
		capacity = 1
	}
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get returns a pooled id, or a fresh one when the pool is drained.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *IDPool) refill() {
	for {
		select {
		case p.ids <- p.factory():
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

func newTraceID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Entropy failure, fall back to a time based id.
		if v1, err := uuid.NewUUID(); err == nil {
			return v1.String()
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(time.Now().Format(time.RFC3339Nano))).String()
	}
	return id.String()
}
