package discovery

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/store"
)

// Manager runs the browsers and keeps the current candidate set.
type Manager struct {
	browser *Browser
	st      *store.Store
	logger  *zap.Logger

	// ServiceTypes lists the mDNS service types to browse.
	ServiceTypes []string

	mu         sync.Mutex
	candidates map[string]*Candidate
}

// NewManager creates a discovery manager browsing the default station
// service types.
func NewManager(browser *Browser, st *store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		browser:      browser,
		st:           st,
		logger:       logger.Named("discovery"),
		ServiceTypes: []string{ServiceTypeModbus, ServiceTypeOCPP},
		candidates:   make(map[string]*Candidate),
	}
}

// Run browses all configured service types until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, svcType := range m.ServiceTypes {
		ch, err := m.browser.Browse(ctx, svcType)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.collect(ctx, ch)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Manager) collect(ctx context.Context, ch <-chan *Candidate) {
	for {
		select {
		case <-ctx.Done():
			return
		case cand, ok := <-ch:
			if !ok {
				return
			}
			m.mu.Lock()
			m.candidates[cand.InstanceName] = cand
			m.mu.Unlock()
			m.logger.Info("station endpoint discovered",
				zap.String("instance", cand.InstanceName),
				zap.String("protocol", cand.Protocol),
				zap.String("endpoint", cand.Endpoint()))
		}
	}
}

// Candidates returns discovered endpoints not yet registered as
// stations, sorted by instance name.
func (m *Manager) Candidates() []Candidate {
	registered := make(map[string]bool)
	if m.st != nil {
		for _, st := range m.st.Snapshot().Stations {
			registered[st.Endpoint] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Candidate, 0, len(m.candidates))
	for _, cand := range m.candidates {
		if registered[cand.Endpoint()] {
			continue
		}
		out = append(out, *cand)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceName < out[j].InstanceName })
	return out
}
