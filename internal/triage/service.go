package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/clarion/internal/ai"
	"github.com/linnemanlabs/clarion/internal/fetch"
	"github.com/linnemanlabs/clarion/internal/fingerprint"
	"github.com/linnemanlabs/clarion/internal/news"
	"github.com/linnemanlabs/clarion/internal/rules"
)

// ErrRunActive is returned when a trigger arrives while another run
// holds the pipeline. Overlapping triggers are skipped, not queued.
var ErrRunActive = errors.New("a pipeline run is already active")

// FailurePolicy decides what happens to an article whose enrichment
// attempts are exhausted.
type FailurePolicy string

const (
	// FailFallback delivers the article with a keyword-only stand-in
	FailFallback FailurePolicy = "fallback"

	// FailDrop drops the article with an ai_failed outcome
	FailDrop FailurePolicy = "drop"
)

// Config holds the orchestrator knobs.
type Config struct {
	// Workers caps concurrent per-article processing, which bounds
	// outstanding provider calls. Zero means 4.
	Workers int

	// RunTimeout cancels in-flight work when a run overstays. Already
	// committed fingerprints stay committed. Zero means no limit.
	RunTimeout time.Duration

	// DefaultAction applies when no rule matches an article.
	DefaultAction rules.Action

	// OnAIFailure picks fallback or drop for exhausted enrichment.
	OnAIFailure FailurePolicy
}

// Delivery is what reaches the notifiers for one surviving article.
type Delivery struct {
	Enriched          *news.EnrichedArticle `json:"enriched"`
	MatchedRule       string                `json:"matched_rule,omitempty"`
	PostFilterVerdict string                `json:"post_filter_verdict"`
}

// Notifier delivers one article to a channel. Delivery retry is the
// adapter's concern.
type Notifier interface {
	Send(ctx context.Context, d *Delivery) error
}

// Fetcher supplies the raw batch for a triggered run.
type Fetcher interface {
	Collect(ctx context.Context) ([]news.Article, []fetch.SourceResult)
}

// Deps are the collaborators the orchestrator drives. Classifier,
// PostFilter, Fetcher, Notifier and Metrics may be nil; the matching
// stage is skipped then.
type Deps struct {
	Rules        []rules.Rule
	Classifier   *ai.Classifier
	Enricher     *ai.Enricher
	PostFilter   *ai.PostFilter
	Fingerprints fingerprint.Store
	Notifier     Notifier
	Fetcher      Fetcher
	Runs         *RunStore
	Metrics      *Metrics
	Logger       log.Logger
}

// Service orchestrates pipeline runs. At most one run is active at a
// time; concurrent triggers are skipped with ErrRunActive.
type Service struct {
	cfg    Config
	active []rules.Rule
	deps   Deps
	logger log.Logger
	mu     sync.Mutex
}

// NewService creates the orchestrator.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = rules.ActionDeny
	}
	if cfg.OnAIFailure == "" {
		cfg.OnAIFailure = FailFallback
	}
	if deps.Runs == nil {
		deps.Runs = NewRunStore()
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	return &Service{
		cfg:    cfg,
		active: rules.Active(deps.Rules),
		deps:   deps,
		logger: deps.Logger,
	}
}

// Runs exposes the run store for the HTTP API.
func (s *Service) Runs() *RunStore { return s.deps.Runs }

// Execute runs the pipeline synchronously over the given batch.
func (s *Service) Execute(ctx context.Context, batch []news.Article) (*Run, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunActive
	}
	defer s.mu.Unlock()

	run := s.newRun()
	s.runPrepared(ctx, run, batch, nil)
	return run, nil
}

// Trigger collects a batch from the fetcher and runs the pipeline
// synchronously. The scheduler calls this on its interval.
func (s *Service) Trigger(ctx context.Context) (*Run, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunActive
	}
	defer s.mu.Unlock()

	run := s.newRun()
	batch, srcResults := s.collect(ctx)
	s.runPrepared(ctx, run, batch, srcResults)
	return run, nil
}

// Start kicks off an asynchronous fetch-and-run and returns the run ID
// immediately. The HTTP trigger endpoint uses this.
func (s *Service) Start(ctx context.Context) (string, error) {
	if !s.mu.TryLock() {
		return "", ErrRunActive
	}

	run := s.newRun()
	s.deps.Runs.Put(run)

	go func(ctx context.Context) {
		defer s.mu.Unlock()
		batch, srcResults := s.collect(ctx)
		s.runPrepared(ctx, run, batch, srcResults)
	}(context.WithoutCancel(ctx))

	return run.ID, nil
}

func (s *Service) newRun() *Run {
	return &Run{
		ID:        ulid.Make().String(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

func (s *Service) collect(ctx context.Context) ([]news.Article, []fetch.SourceResult) {
	if s.deps.Fetcher == nil {
		return nil, nil
	}
	return s.deps.Fetcher.Collect(ctx)
}

// articleResult is the per-article output of the concurrent phase.
type articleResult struct {
	outcome  Outcome
	delivery *Delivery
	failure  string
}

func (s *Service) runPrepared(ctx context.Context, run *Run, batch []news.Article, srcResults []fetch.SourceResult) {
	L := s.logger.With("run_id", run.ID)
	L.Info(ctx, "run started", "articles", len(batch))

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	for _, sr := range srcResults {
		if sr.Err != nil {
			run.Failures = append(run.Failures, fmt.Sprintf("source %s: %v", sr.Source, sr.Err))
		}
	}

	// concurrent phase: everything up to and including the post-filter
	results := make([]articleResult, len(batch))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range batch {
		g.Go(func() error {
			out, d, failure := s.process(ctx, &batch[i])
			results[i] = articleResult{outcome: out, delivery: d, failure: failure}
			return nil
		})
	}
	g.Wait()

	// sequential phase: commit fingerprints and deliver, batch order
	storeFailed := false
	for i := range results {
		r := &results[i]
		if r.failure != "" {
			run.Failures = append(run.Failures, r.failure)
		}
		if r.delivery == nil {
			continue
		}
		out := &r.outcome

		fp := fingerprint.From(&batch[i])
		out.Fingerprint = fp

		if storeFailed {
			out.Stage, out.Status = StageDedup, OutcomeError
			out.Error = "run aborted: fingerprint store unavailable"
			continue
		}

		added, err := s.deps.Fingerprints.Add(ctx, fp, time.Now())
		if err != nil {
			storeFailed = true
			out.Stage, out.Status, out.Error = StageDedup, OutcomeError, err.Error()
			run.Failures = append(run.Failures, fmt.Sprintf("fingerprint store: %v", err))
			L.Error(ctx, err, "fingerprint store failed, aborting remaining commits")
			continue
		}
		if !added {
			out.Stage, out.Status = StageDedup, OutcomeDuplicate
			continue
		}

		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.Send(ctx, r.delivery); err != nil {
				// fingerprint stays committed: the article was seen
				out.Stage, out.Status, out.Error = StageDeliver, OutcomeError, err.Error()
				run.Failures = append(run.Failures, fmt.Sprintf("deliver %q: %v", out.Title, err))
				L.Error(ctx, err, "delivery failed", "title", out.Title)
				continue
			}
		}
		out.Stage, out.Status = StageDeliver, OutcomePassed
	}

	run.Outcomes = make([]Outcome, 0, len(results))
	for _, r := range results {
		run.Outcomes = append(run.Outcomes, r.outcome)
	}
	run.Counts = countStages(run.Outcomes)
	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt).Seconds()
	run.Status = StatusCompleted
	if len(run.Failures) > 0 || hasFailedOutcome(run.Outcomes) {
		run.Status = StatusPartial
	}

	s.deps.Runs.Put(run)
	if s.deps.Metrics != nil {
		s.deps.Metrics.observeRun(run)
	}

	L.Info(ctx, "run complete",
		"status", run.Status,
		"articles", len(batch),
		"delivered", run.Counts[StageDeliver].Passed,
		"failures", len(run.Failures),
		"duration", run.Duration,
	)
}

// process takes one article through validation, pre-filter, rules,
// enrichment and post-filter. A nil delivery means the article stopped
// at the returned outcome; otherwise the outcome is finished by the
// sequential commit phase.
func (s *Service) process(ctx context.Context, article *news.Article) (Outcome, *Delivery, string) {
	out := Outcome{Title: article.Title, Source: article.Source}

	if err := article.Validate(); err != nil {
		out.Stage, out.Status, out.Error = StageFetch, OutcomeError, err.Error()
		return out, nil, ""
	}

	if s.deps.Classifier != nil {
		rel := s.deps.Classifier.Classify(ctx, article, s.active)
		if !rel.Relevant {
			out.Stage, out.Status, out.Error = StagePreFilter, OutcomeRejected, rel.Reason
			return out, nil, ""
		}
	}

	verdict := rules.Evaluate(article, s.active, s.cfg.DefaultAction)
	if verdict.Action == rules.ActionDeny {
		out.Stage, out.Status, out.Rule = StageRules, OutcomeRejected, verdict.Rule
		return out, nil, ""
	}
	out.Rule = verdict.Rule

	var failure string
	enriched, err := s.deps.Enricher.Enrich(ctx, article)
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrExhausted) && s.cfg.OnAIFailure == FailFallback:
			s.logger.Warn(ctx, "enrichment exhausted, delivering fallback",
				"title", article.Title, "error", err.Error())
			enriched = ai.Fallback(article)
			failure = fmt.Sprintf("enrich %q: %v (fallback delivered)", article.Title, err)
		case errors.Is(err, ai.ErrExhausted):
			out.Stage, out.Status, out.Error = StageEnrich, OutcomeAIFailed, err.Error()
			return out, nil, ""
		default:
			out.Stage, out.Status, out.Error = StageEnrich, OutcomeError, err.Error()
			return out, nil, ""
		}
	}

	d := &Delivery{
		Enriched:          enriched,
		MatchedRule:       verdict.Rule,
		PostFilterVerdict: "skipped",
	}
	if s.deps.PostFilter != nil && s.deps.PostFilter.Enabled() {
		if !s.deps.PostFilter.Keep(enriched) {
			out.Stage, out.Status = StagePostFilter, OutcomeRejected
			return out, nil, failure
		}
		if !enriched.AIFailed {
			d.PostFilterVerdict = "passed"
		}
	}
	return out, d, failure
}

func hasFailedOutcome(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Status == OutcomeError || o.Status == OutcomeAIFailed {
			return true
		}
	}
	return false
}
