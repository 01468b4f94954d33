// Package ingest orchestrates fetching, normalization, and persistence of
// articles from the configured providers.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ikehi/GURUGEEKS/internal/news/normalize"
	"github.com/ikehi/GURUGEEKS/internal/news/sources"
	"github.com/ikehi/GURUGEEKS/internal/news/store"
)

// State describes what the scheduler is currently doing.
type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Failed  State = "failed"
)

// ErrAlreadyRunning reports a trigger that arrived while a run was active.
var ErrAlreadyRunning = errors.New("ingestion already running")

// Report summarizes one ingestion run.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Fetched   int           `json:"fetched"`
	Succeeded int           `json:"succeeded"`
	Dropped   int           `json:"dropped"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failures  []string      `json:"failures,omitempty"`
	Degraded  bool          `json:"degraded"`
}

// Upserter is the slice of the article store the scheduler needs.
type Upserter interface {
	UpsertArticle(ctx context.Context, article *store.Article) (store.Outcome, error)
}

// Scheduler runs ingestion on demand and on a fixed interval.
// At most one run is active at a time; overlapping triggers are rejected.
type Scheduler struct {
	registry   *sources.Registry
	normalizer *normalize.Normalizer
	store      Upserter
	interval   time.Duration
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	lastReport *Report
}

// NewScheduler creates an ingestion scheduler. A zero interval disables
// the periodic loop; runs then happen only via Trigger.
func NewScheduler(registry *sources.Registry, normalizer *normalize.Normalizer, st Upserter, interval time.Duration) *Scheduler {
	return &Scheduler{
		registry:   registry,
		normalizer: normalizer,
		store:      st,
		interval:   interval,
		logger:     slog.Default(),
		state:      Idle,
	}
}

// Status returns the current state and the report of the last finished run.
func (s *Scheduler) Status() (State, *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastReport
}

// Trigger runs one ingestion cycle synchronously. It returns
// ErrAlreadyRunning when a cycle is already in flight.
func (s *Scheduler) Trigger(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.state = Running
	s.mu.Unlock()

	report := s.run(ctx)

	s.mu.Lock()
	// Failed only when every adapter failed. An adapter that returns an
	// empty batch still counts as a success.
	if len(report.Failures) > 0 && report.Succeeded == 0 {
		s.state = Failed
	} else {
		s.state = Idle
	}
	s.lastReport = report
	s.mu.Unlock()
	return report, nil
}

// Start runs the periodic loop until the context is cancelled. It runs one
// cycle immediately, then every interval.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("periodic ingestion disabled")
		<-ctx.Done()
		return
	}
	s.logger.Info("starting ingestion loop", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Trigger(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("ingestion cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) run(ctx context.Context) *Report {
	report := &Report{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		s.logger.Info("ingestion cycle finished",
			"fetched", report.Fetched,
			"inserted", report.Inserted,
			"updated", report.Updated,
			"unchanged", report.Unchanged,
			"dropped", report.Dropped,
			"skipped", report.Skipped,
			"failures", len(report.Failures),
			"duration", report.Duration)
	}()

	batches, failures := s.registry.FetchAll(ctx)
	for _, f := range failures {
		s.logger.Error("provider fetch failed", "provider", f.Provider, "error", f.Err)
		report.Failures = append(report.Failures, f.Provider)
	}
	report.Degraded = len(failures) > 0
	report.Succeeded = len(batches)
	for _, b := range batches {
		report.Fetched += len(b.Items)
	}

	normalized := s.normalizer.Normalize(batches)
	report.Dropped = normalized.Dropped

	for _, article := range normalized.Articles {
		outcome, err := s.store.UpsertArticle(ctx, article)
		if err != nil {
			// One bad record must not abort the cycle.
			s.logger.Error("upsert failed", "url", article.URL, "error", err)
			report.Skipped++
			continue
		}
		switch outcome {
		case store.Inserted:
			report.Inserted++
		case store.Updated:
			report.Updated++
		case store.Unchanged:
			report.Unchanged++
		}
	}
	return report
}
