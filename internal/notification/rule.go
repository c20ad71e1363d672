// Package notification evaluates per-subscriber delivery rules against each
// new detection and dispatches passing rules to their configured adapter.
package notification

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/events"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/speciesref"
)

var log = logging.ForService("notification")

// History answers the scope questions ("is this species new today/this
// week/ever") the rule engine needs — implemented by internal/datastore.
type History interface {
	FirstSeen(ctx context.Context, scientificName string) (time.Time, bool, error)
}

// Adapter dispatches one rendered notification to a transport.
type Adapter interface {
	Name() string
	Send(ctx context.Context, target, title, body string) error
}

// Engine evaluates detections against configured rules and dispatches
// passing ones to the matching adapter.
type Engine struct {
	settings *conf.NotificationSettings
	history  History
	ref      *speciesref.Reference
	refDB    *sql.DB
	adapters map[string]Adapter

	mu        sync.Mutex
	lastFired map[string]time.Time // rule name -> last successful dispatch
}

// NewEngine builds an Engine. ref/refDB may both be nil if no species
// reference database is configured; taxa gates then only match against the
// raw scientific name and its genus, never order/family.
func NewEngine(settings *conf.NotificationSettings, history History, ref *speciesref.Reference, refDB *sql.DB, adapters ...Adapter) *Engine {
	reg := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		reg[a.Name()] = a
	}
	return &Engine{
		settings:  settings,
		history:   history,
		ref:       ref,
		refDB:     refDB,
		adapters:  reg,
		lastFired: make(map[string]time.Time),
	}
}

// Consume runs forever, evaluating every detection event the bus delivers
// to ch, until ch is closed.
func (e *Engine) Consume(ctx context.Context, ch <-chan events.DetectionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.Evaluate(ctx, ev.Detection, ev.IsNewSpecies)
		}
	}
}

// Evaluate runs every configured rule against d and dispatches the ones
// that pass. Evaluation and dispatch errors are logged, never returned —
// one rule's failure must never block the others.
func (e *Engine) Evaluate(ctx context.Context, d detection.Detection, isNewSpecies bool) {
	if e.inQuietHours(d.Timestamp) {
		return
	}

	for _, rule := range e.settings.Rules {
		if !rule.Enabled {
			continue
		}
		if !e.scopeMatches(ctx, rule, d, isNewSpecies) {
			continue
		}
		if !e.taxaMatch(ctx, rule, d) {
			continue
		}
		if !e.confidenceMatches(rule, d) {
			continue
		}
		if !e.frequencyAllows(rule) {
			continue
		}

		e.dispatch(ctx, rule, d)
	}
}

// inQuietHours reports whether ts falls within the configured global
// quiet-hours window. A window that wraps midnight (start > end) is
// treated as spanning the day boundary.
func (e *Engine) inQuietHours(ts time.Time) bool {
	start, okStart := parseClock(e.settings.QuietHoursStart)
	end, okEnd := parseClock(e.settings.QuietHoursEnd)
	if !okStart || !okEnd {
		return false
	}

	now := ts.Hour()*60 + ts.Minute()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseClock(hhmm string) (int, bool) {
	hhmm = strings.TrimSpace(hhmm)
	if hhmm == "" {
		return 0, false
	}
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	return h*60 + m, true
}

func (e *Engine) scopeMatches(ctx context.Context, rule conf.RuleSettings, d detection.Detection, isNewSpecies bool) bool {
	switch rule.Scope {
	case "", "all":
		return true
	case "new_ever":
		return isNewSpecies
	case "new_today":
		return e.firstSeenWithin(ctx, d, 24*time.Hour)
	case "new_this_week":
		return e.firstSeenWithin(ctx, d, 7*24*time.Hour)
	default:
		return true
	}
}

func (e *Engine) firstSeenWithin(ctx context.Context, d detection.Detection, window time.Duration) bool {
	if e.history == nil {
		return false
	}
	firstSeen, found, err := e.history.FirstSeen(ctx, d.ScientificName)
	if err != nil {
		log.Warn("history lookup failed", "error", err, "species", d.ScientificName)
		return false
	}
	if !found {
		return true
	}
	return d.Timestamp.Sub(firstSeen) <= window
}

func (e *Engine) taxaMatch(ctx context.Context, rule conf.RuleSettings, d detection.Detection) bool {
	hasIncludes := len(rule.IncludeOrders)+len(rule.IncludeFamilies)+len(rule.IncludeGenera)+len(rule.IncludeSpecies) > 0
	hasExcludes := len(rule.ExcludeOrders)+len(rule.ExcludeFamilies)+len(rule.ExcludeGenera)+len(rule.ExcludeSpecies) > 0

	if !hasIncludes && !hasExcludes {
		return true
	}

	// Order/family gates require a species reference lookup; rules that
	// only gate on species/genus never pay for it.
	var order, family string
	needsTaxonomy := len(rule.IncludeOrders)+len(rule.IncludeFamilies)+len(rule.ExcludeOrders)+len(rule.ExcludeFamilies) > 0
	if needsTaxonomy && e.ref != nil && e.refDB != nil {
		order, family = e.lookupOrderFamily(ctx, d.ScientificName)
	}

	genus := genusOf(d.ScientificName)

	if hasExcludes {
		if contains(rule.ExcludeSpecies, d.ScientificName) || contains(rule.ExcludeGenera, genus) {
			return false
		}
		if order != "" && contains(rule.ExcludeOrders, order) {
			return false
		}
		if family != "" && contains(rule.ExcludeFamilies, family) {
			return false
		}
	}

	if !hasIncludes {
		return true
	}

	if contains(rule.IncludeSpecies, d.ScientificName) || contains(rule.IncludeGenera, genus) {
		return true
	}
	if order != "" && contains(rule.IncludeOrders, order) {
		return true
	}
	if family != "" && contains(rule.IncludeFamilies, family) {
		return true
	}
	return false
}

func (e *Engine) lookupOrderFamily(ctx context.Context, scientificName string) (order, family string) {
	err := e.ref.Attach(ctx, e.refDB, func(conn *sql.Conn) error {
		sp, err := e.ref.Lookup(ctx, conn, scientificName)
		if err != nil {
			return err
		}
		order, family = sp.Order, sp.Family
		return nil
	})
	if err != nil {
		log.Debug("species reference lookup failed", "species", scientificName, "error", err)
		return "", ""
	}
	return order, family
}

func genusOf(scientificName string) string {
	parts := strings.SplitN(scientificName, " ", 2)
	return parts[0]
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func (e *Engine) confidenceMatches(rule conf.RuleSettings, d detection.Detection) bool {
	threshold := rule.MinimumConfidence
	if threshold <= 0 {
		threshold = d.SpeciesConfidenceThreshold
	}
	return d.Confidence >= threshold
}

func (e *Engine) frequencyAllows(rule conf.RuleSettings) bool {
	e.mu.Lock()
	last, fired := e.lastFired[rule.Name]
	e.mu.Unlock()

	if !fired {
		return true
	}

	now := time.Now()
	switch rule.FrequencyWhen {
	case "", "always":
		return true
	case "once_per_day":
		return !sameDay(last, now)
	case "once_per_week":
		return now.Sub(last) >= 7*24*time.Hour
	default:
		return true
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (e *Engine) dispatch(ctx context.Context, rule conf.RuleSettings, d detection.Detection) {
	adapter, ok := e.adapters[rule.Service]
	if !ok {
		log.Warn("no adapter registered for rule service", "rule", rule.Name, "service", rule.Service)
		return
	}

	title, body, err := render(rule, d)
	if err != nil {
		log.Error("rendering notification template failed", "rule", rule.Name, "error", err)
		return
	}

	if err := adapter.Send(ctx, rule.Target, title, body); err != nil {
		log.Error("dispatching notification failed", "rule", rule.Name, "adapter", adapter.Name(), "error", err)
		return
	}

	e.mu.Lock()
	e.lastFired[rule.Name] = time.Now()
	e.mu.Unlock()
}
