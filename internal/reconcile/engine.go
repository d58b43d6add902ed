// Package reconcile folds raw provider events into the company ->
// application -> email log -> response graph. Every pass is idempotent:
// re-running against unchanged upstream state creates nothing new and
// converges to the same result.
package reconcile

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/appliflow/appliflow/internal/identity"
	"github.com/appliflow/appliflow/internal/recordstore"
	"github.com/appliflow/appliflow/internal/resend"
)

// EventSource is the provider surface the engine needs: bounded listings and
// single-event detail. Implemented by resend.Client.
type EventSource interface {
	ListAllSent(ctx context.Context, since, until *time.Time) ([]resend.Event, error)
	ListAllReceived(ctx context.Context, since, until *time.Time) ([]resend.Event, error)
	GetEventDetail(ctx context.Context, id string) (resend.Detail, error)
}

type Options struct {
	Store    recordstore.Store
	Source   EventSource
	Matcher  *identity.Matcher
	Owner    string
	Provider string
	Now      func() time.Time
	Logger   *log.Logger
}

type Engine struct {
	store    recordstore.Store
	source   EventSource
	matcher  *identity.Matcher
	owner    string
	provider string
	now      func() time.Time
	logger   *log.Logger
}

func NewEngine(opts Options) *Engine {
	matcher := opts.Matcher
	if matcher == nil {
		matcher = identity.NewMatcher(nil)
	}
	provider := strings.TrimSpace(opts.Provider)
	if provider == "" {
		provider = "resend"
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:    opts.Store,
		source:   opts.Source,
		matcher:  matcher,
		owner:    strings.TrimSpace(opts.Owner),
		provider: provider,
		now:      now,
		logger:   logger,
	}
}

// WithOwner returns a copy of the engine scoped to another owner. The sync
// endpoint uses this to thread the request's user through the passes instead
// of baking a single-tenant constant into them.
func (e *Engine) WithOwner(owner string) *Engine {
	owner = strings.TrimSpace(owner)
	if owner == "" || owner == e.owner {
		return e
	}
	clone := *e
	clone.owner = owner
	return &clone
}

func (e *Engine) Owner() string {
	return e.owner
}

// PassResult counts one pass's outcomes. Failed covers per-item errors the
// pass logged and skipped past, not a pass abort.
type PassResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (r PassResult) addTo(counters map[string]int, prefix string) {
	counters[prefix+"_created"] += r.Created
	counters[prefix+"_updated"] += r.Updated
	counters[prefix+"_skipped"] += r.Skipped
	counters[prefix+"_failed"] += r.Failed
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// NormalizeDate parses a provider timestamp into strict ISO-8601 (UTC,
// RFC 3339). Unparseable input normalizes to nil rather than being stored
// malformed.
func NormalizeDate(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			normalized := ts.UTC().Format(time.RFC3339)
			return &normalized
		}
	}
	return nil
}

func (e *Engine) nowISO() string {
	return e.now().UTC().Format(time.RFC3339)
}

func firstRecipient(to []string) string {
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			return addr
		}
	}
	return ""
}

func equalDatePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
