// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DevTenantID = "00000000-0000-0000-0000-000000000001"

type memProvider struct {
	mu   sync.RWMutex
	byID map[string]Tenant
}

// NewMemoryProvider serves a fixed tenant set.
func NewMemoryProvider(ts ...Tenant) Provider {
	p := &memProvider{byID: map[string]Tenant{}}
	for _, t := range ts {
		p.byID[t.ID] = t
	}
	return p
}

// NewMemoryProviderFromEnv seeds from TENANT_SEED_JSON or falls back to a single dev tenant.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	seed := os.Getenv("TENANT_SEED_JSON")
	if seed != "" {
		entries, err := parseSeed(seed)
		if err != nil {
			log.Warnw("TENANT_SEED_JSON unreadable, using dev tenant", "err", err)
		} else {
			return NewMemoryProvider(entries...)
		}
	}
	return NewMemoryProvider(Tenant{
		ID: DevTenantID, Slug: "dev", Name: "Dev Client", Plan: "professional", Active: true, CreatedAt: time.Now().UTC(),
	})
}

// parseSeed reads [{"id":"...","slug":"...","name":"...","plan":"..."}].
func parseSeed(seed string) ([]Tenant, error) {
	var entries []struct {
		ID, Slug, Name, Plan string
	}
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		return nil, err
	}
	out := make([]Tenant, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		out = append(out, Tenant{ID: e.ID, Slug: e.Slug, Name: e.Name, Plan: e.Plan, Active: true, CreatedAt: time.Now().UTC()})
	}
	return out, nil
}

func (m *memProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memProvider) ListTenants(ctx context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
