// internal/adapter/device/provider.go

package device

import (
	"context"
	"sync"

	"ritrovo/internal/domain/geo"
)

// fix is one pushed device answer: a position or an error code
type fix struct {
	pos geo.Position
	err error
}

// PushProvider implements the geo.Provider interface over a push
// channel: the browser performs the actual device call and posts the
// outcome here, and a pending CurrentPosition call picks it up. If no
// outcome arrives before the caller's deadline the request times out,
// matching the device API's timeout error code.
type PushProvider struct {
	mu      sync.Mutex
	waiters []chan fix
}

// NewPushProvider creates a new push-style provider
func NewPushProvider() *PushProvider {
	return &PushProvider{}
}

// CurrentPosition waits for the next pushed outcome
func (p *PushProvider) CurrentPosition(ctx context.Context) (geo.Position, error) {
	ch := make(chan fix, 1)

	p.mu.Lock()
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case f := <-ch:
		return f.pos, f.err
	case <-ctx.Done():
		p.remove(ch)
		return geo.Position{}, geo.ErrAcquisitionTimeout
	}
}

// Push delivers a successful fix to every pending request
func (p *PushProvider) Push(pos geo.Position) {
	p.deliver(fix{pos: pos})
}

// PushError delivers a device error to every pending request
func (p *PushProvider) PushError(err error) {
	p.deliver(fix{err: err})
}

func (p *PushProvider) deliver(f fix) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- f
	}
}

func (p *PushProvider) remove(ch chan fix) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
