package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lolcoach/coach-relay-go/internal/model"
)

// Conn is one live telemetry connection bound to a token.
type Conn struct {
	ID          string
	Identity    model.TokenIdentity
	ConnectedAt time.Time
	Done        chan struct{}

	lastActivity atomic.Int64
	closeFn      func(reason model.CloseReason)
	closeOnce    sync.Once
	closeReason  atomic.Value
}

// NewConn wraps a transport. closeFn tears the transport down and is
// called at most once.
func NewConn(identity model.TokenIdentity, closeFn func(reason model.CloseReason)) *Conn {
	now := time.Now()
	c := &Conn{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: now,
		Done:        make(chan struct{}),
		closeFn:     closeFn,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Conn) TokenHash() string {
	return c.Identity.TokenHash
}

func (c *Conn) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Close is safe to call from any goroutine and more than once.
func (c *Conn) Close(reason model.CloseReason) {
	c.closeOnce.Do(func() {
		c.closeReason.Store(reason)
		close(c.Done)
		if c.closeFn != nil {
			c.closeFn(reason)
		}
	})
}

// CloseReason is empty until Close has been called.
func (c *Conn) CloseReason() model.CloseReason {
	if reason, ok := c.closeReason.Load().(model.CloseReason); ok {
		return reason
	}
	return ""
}
