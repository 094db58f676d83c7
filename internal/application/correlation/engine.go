package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
)

// ConflictError is a fuzzy-match ambiguity that needs manual review: two
// existing records both match the incoming finding closely enough that an
// automatic merge could be wrong. The finding itself is still persisted.
type ConflictError struct {
	Tenant     string
	Host       string
	Port       *int
	Title      string
	Candidates []vulns.VulnID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ambiguous correlation for %q on %s: %d candidates", e.Title, e.Host, len(e.Candidates))
}

// Event is emitted after every mutation so the risk calculator can
// recompute the affected asset. Resolved covers operator status changes.
type Event struct {
	Vuln      *vulns.Vulnerability
	Created   bool
	Escalated bool
	Resolved  bool
}

// Engine deduplicates findings into vulnerability records. It is the only
// component that writes vulnerabilities. Merges for one (tenant, host,
// port) key are serialized on a per-key mutex; different keys merge
// concurrently.
type Engine struct {
	vulnRepo    vulns.Repository
	findingRepo findings.Repository
	threshold   float64
	tieMargin   float64
	logger      *slog.Logger
	onEvent     func(ctx context.Context, ev Event)
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(vulnRepo vulns.Repository, findingRepo findings.Repository, threshold float64, logger *slog.Logger) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		vulnRepo:    vulnRepo,
		findingRepo: findingRepo,
		threshold:   threshold,
		tieMargin:   0.02,
		logger:      logger,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// OnEvent registers the recompute hook. Must be called before Ingest.
func (e *Engine) OnEvent(fn func(ctx context.Context, ev Event)) { e.onEvent = fn }

// Ingest persists one finding and merges it into the vulnerability set.
// Matching order: exact (tenant, host, port, identifier) when the finding
// carries an identifier, otherwise normalized title similarity against
// records at the same location.
func (e *Engine) Ingest(ctx context.Context, f *findings.Finding) (*vulns.Vulnerability, error) {
	if f.ID == "" {
		f.ID = findings.FindingID(uuid.NewString())
	}
	if f.DetectedAt.IsZero() {
		f.DetectedAt = e.now()
	}
	if err := e.findingRepo.Save(ctx, f); err != nil {
		return nil, fmt.Errorf("persisting finding: %w", err)
	}

	unlock := e.lockKey(mergeKey(f.TenantID, f.Host, f.Port))
	defer unlock()

	match, err := e.match(ctx, f)
	if err != nil {
		return nil, err
	}

	if match == nil {
		v := &vulns.Vulnerability{
			ID:         vulns.VulnID(uuid.NewString()),
			TenantID:   f.TenantID,
			Host:       f.Host,
			Port:       f.Port,
			Identifier: f.VulnID,
			Title:      f.Title,
			Severity:   f.Severity,
			Tools:      []string{f.Tool},
			Evidence:   evidenceList(f),
			Status:     vulns.StatusOpen,
			FirstSeen:  f.DetectedAt,
			LastSeen:   f.DetectedAt,
		}
		if err := e.vulnRepo.Save(ctx, v); err != nil {
			return nil, fmt.Errorf("creating vulnerability: %w", err)
		}
		e.emit(ctx, Event{Vuln: v, Created: true})
		return v, nil
	}

	escalated := f.Severity > match.Severity
	if escalated {
		match.Severity = f.Severity
	}
	if !match.HasTool(f.Tool) {
		match.Tools = append(match.Tools, f.Tool)
	}
	if ev := evidenceList(f); len(ev) > 0 {
		match.Evidence = append(match.Evidence, ev...)
	}
	if f.DetectedAt.After(match.LastSeen) {
		match.LastSeen = f.DetectedAt
	}
	if match.Status != vulns.StatusOpen {
		// a fresh detection reopens a resolved record
		match.Status = vulns.StatusOpen
		escalated = true
	}
	if err := e.vulnRepo.Save(ctx, match); err != nil {
		return nil, fmt.Errorf("merging vulnerability: %w", err)
	}
	e.emit(ctx, Event{Vuln: match, Escalated: escalated})
	return match, nil
}

// SetStatus routes operator status changes through the engine, which owns
// all vulnerability mutation, and triggers a risk recompute.
func (e *Engine) SetStatus(ctx context.Context, tenant string, id vulns.VulnID, status vulns.Status) error {
	v, err := e.vulnRepo.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	unlock := e.lockKey(mergeKey(v.TenantID, v.Host, v.Port))
	defer unlock()

	if err := e.vulnRepo.UpdateStatus(ctx, tenant, id, status); err != nil {
		return err
	}
	v.Status = status
	e.emit(ctx, Event{Vuln: v, Resolved: status != vulns.StatusOpen})
	return nil
}

func (e *Engine) match(ctx context.Context, f *findings.Finding) (*vulns.Vulnerability, error) {
	if f.VulnID != "" {
		return e.vulnRepo.FindByKey(ctx, f.TenantID, f.Host, f.Port, f.VulnID)
	}

	candidates, err := e.vulnRepo.ListByLocation(ctx, f.TenantID, f.Host, f.Port)
	if err != nil {
		return nil, err
	}
	title := normalizeTitle(f.Title)
	var best, second *vulns.Vulnerability
	var bestScore, secondScore float64
	for _, c := range candidates {
		s := similarity(title, normalizeTitle(c.Title))
		switch {
		case s > bestScore:
			second, secondScore = best, bestScore
			best, bestScore = c, s
		case s > secondScore:
			second, secondScore = c, s
		}
	}
	if best == nil || bestScore < e.threshold {
		return nil, nil
	}
	if second != nil && secondScore >= e.threshold && bestScore-secondScore < e.tieMargin {
		return nil, &ConflictError{
			Tenant:     f.TenantID,
			Host:       f.Host,
			Port:       f.Port,
			Title:      f.Title,
			Candidates: []vulns.VulnID{best.ID, second.ID},
		}
	}
	return best, nil
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.onEvent != nil {
		e.onEvent(ctx, ev)
	}
}

func (e *Engine) lockKey(key string) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func mergeKey(tenant, host string, port *int) string {
	p := -1
	if port != nil {
		p = *port
	}
	return fmt.Sprintf("%s|%s|%d", tenant, host, p)
}

func evidenceList(f *findings.Finding) []string {
	if strings.TrimSpace(f.Evidence) == "" {
		return nil
	}
	return []string{fmt.Sprintf("[%s] %s", f.Tool, f.Evidence)}
}

// normalizeTitle lowercases and strips punctuation so cosmetic differences
// between tools do not defeat the similarity check.
func normalizeTitle(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// similarity is normalized Levenshtein: 1 - distance/maxlen.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(max)
}
