package app

import (
	"context"
	"sort"
	"sync"

	"wetmill_sms/internal/domain/message"
)

// ReportCallback runs a scheduled report.
type ReportCallback func(ctx context.Context, report *message.ScheduledReport) error

// ReportRegistry maps report slugs to callbacks. Registering a slug twice
// replaces the earlier callback.
type ReportRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]ReportCallback
}

func NewReportRegistry() *ReportRegistry {
	return &ReportRegistry{callbacks: make(map[string]ReportCallback)}
}

func (r *ReportRegistry) Register(slug string, cb ReportCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[slug] = cb
}

func (r *ReportRegistry) Lookup(slug string) (ReportCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[slug]
	return cb, ok
}

// Slugs lists the registered slugs in sorted order.
func (r *ReportRegistry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.callbacks))
	for slug := range r.callbacks {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
