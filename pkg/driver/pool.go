package driver

import (
	"context"
	"sync"
)

// Pool shares driver connections across stations on the same endpoint.
// Entries are keyed by endpoint (host:port or broker URL).
type Pool struct {
	mu      sync.Mutex
	drivers map[string]Driver
	factory func(endpoint string) (Driver, error)
}

// NewPool creates a pool using factory to build missing entries.
func NewPool(factory func(endpoint string) (Driver, error)) *Pool {
	return &Pool{
		drivers: make(map[string]Driver),
		factory: factory,
	}
}

// Get returns the shared driver for an endpoint, creating and connecting
// it on first use.
func (p *Pool) Get(ctx context.Context, endpoint string) (Driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.drivers[endpoint]; ok {
		return d, nil
	}

	d, err := p.factory(endpoint)
	if err != nil {
		return nil, err
	}
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	p.drivers[endpoint] = d
	return d, nil
}

// Put registers an externally built driver for an endpoint.
func (p *Pool) Put(endpoint string, d Driver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drivers[endpoint] = d
}

// CloseAll disconnects every pooled driver.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, d := range p.drivers {
		_ = d.Disconnect(ctx)
		delete(p.drivers, key)
	}
}
