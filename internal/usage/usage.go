// Package usage records provider data calls for the admin usage summary.
package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event is one gateway call. Outcome is "ok" or an error kind.
type Event struct {
	TenantID    string
	Provider    string
	Environment string
	Operation   string
	Outcome     string
	ActorRole   string
	Overridden  bool
	RequestID   string
	Duration    time.Duration
	StartedAt   time.Time
}

type Totals struct {
	Count int `json:"count"`
	OK    int `json:"ok"`
	AvgMs int `json:"avg_ms"`
}

type DailyRow struct {
	Day       time.Time `json:"day"`
	Provider  string    `json:"provider"`
	Operation string    `json:"operation"`
	Count     int       `json:"count"`
	OK        int       `json:"ok"`
	AvgMs     int       `json:"avg_ms"`
}

type Summary struct {
	Totals Totals     `json:"totals"`
	Daily  []DailyRow `json:"daily"`
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
	// Summary aggregates one tenant, or every tenant when tenantID is empty.
	Summary(ctx context.Context, tenantID string) (Summary, error)
}

type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (m *MemoryRecorder) Record(ctx context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRecorder) Summary(ctx context.Context, tenantID string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type bucket struct {
		row   DailyRow
		total time.Duration
	}
	type key struct {
		day                 time.Time
		provider, operation string
	}
	buckets := map[key]*bucket{}
	var all time.Duration
	out := Summary{Daily: []DailyRow{}}
	for _, ev := range m.events {
		if tenantID != "" && ev.TenantID != tenantID {
			continue
		}
		day := ev.StartedAt.UTC().Truncate(24 * time.Hour)
		k := key{day, ev.Provider, ev.Operation}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{row: DailyRow{Day: day, Provider: ev.Provider, Operation: ev.Operation}}
			buckets[k] = b
		}
		b.row.Count++
		b.total += ev.Duration
		out.Totals.Count++
		all += ev.Duration
		if ev.Outcome == "ok" {
			b.row.OK++
			out.Totals.OK++
		}
	}
	for _, b := range buckets {
		b.row.AvgMs = int(b.total.Milliseconds()) / b.row.Count
		out.Daily = append(out.Daily, b.row)
	}
	if out.Totals.Count > 0 {
		out.Totals.AvgMs = int(all.Milliseconds()) / out.Totals.Count
	}
	sort.Slice(out.Daily, func(i, j int) bool {
		a, b := out.Daily[i], out.Daily[j]
		if !a.Day.Equal(b.Day) {
			return a.Day.After(b.Day)
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Operation < b.Operation
	})
	return out, nil
}
