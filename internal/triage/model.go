package triage

import "time"

// RunStatus tracks where a pipeline run is in its lifecycle.
type RunStatus string

const (
	// StatusRunning means the run is in progress
	StatusRunning RunStatus = "running"

	// StatusCompleted means every article finished without failures
	StatusCompleted RunStatus = "completed"

	// StatusPartial means the run finished but some articles or
	// collaborators failed along the way
	StatusPartial RunStatus = "completed_with_partial_failures"
)

// Stage names the pipeline steps an article flows through.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StagePreFilter  Stage = "pre_filter"
	StageRules      Stage = "rules"
	StageEnrich     Stage = "enrich"
	StagePostFilter Stage = "post_filter"
	StageDedup      Stage = "dedup"
	StageDeliver    Stage = "deliver"
)

// stageOrder fixes the pipeline sequence for count derivation.
var stageOrder = []Stage{
	StageFetch, StagePreFilter, StageRules, StageEnrich,
	StagePostFilter, StageDedup, StageDeliver,
}

// OutcomeStatus is the terminal state of one article within a run.
type OutcomeStatus string

const (
	// OutcomePassed means delivered to the notifier
	OutcomePassed OutcomeStatus = "passed"

	// OutcomeRejected means filtered out by a pipeline stage
	OutcomeRejected OutcomeStatus = "rejected"

	// OutcomeDuplicate means the fingerprint was already committed
	OutcomeDuplicate OutcomeStatus = "duplicate"

	// OutcomeAIFailed means enrichment was exhausted and the article
	// was dropped under the drop policy
	OutcomeAIFailed OutcomeStatus = "ai_failed"

	// OutcomeError means an unexpected failure stopped the article
	OutcomeError OutcomeStatus = "error"
)

// Outcome records where and how one article left the pipeline.
type Outcome struct {
	Title       string        `json:"title"`
	Source      string        `json:"source"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Stage       Stage         `json:"stage"`
	Status      OutcomeStatus `json:"status"`
	Rule        string        `json:"rule,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// StageCount tallies articles entering and leaving one stage.
type StageCount struct {
	In      int `json:"in"`
	Passed  int `json:"passed"`
	Stopped int `json:"stopped"`
}

// Counts maps each stage to its tallies.
type Counts map[Stage]*StageCount

// Run is the result of one pipeline execution.
type Run struct {
	ID          string    `json:"id"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Duration    float64   `json:"duration_seconds,omitempty"`
	Counts      Counts    `json:"counts,omitempty"`
	Outcomes    []Outcome `json:"outcomes,omitempty"`
	Failures    []string  `json:"failures,omitempty"`
}

// countStages derives per-stage tallies from the article outcomes. An
// article counts as entering every stage up to and including the one
// it stopped at; passed articles traverse all of them.
func countStages(outcomes []Outcome) Counts {
	index := make(map[Stage]int, len(stageOrder))
	for i, s := range stageOrder {
		index[s] = i
	}

	counts := make(Counts, len(stageOrder))
	for _, s := range stageOrder {
		counts[s] = &StageCount{}
	}

	for _, o := range outcomes {
		stop, ok := index[o.Stage]
		if !ok {
			continue
		}
		for i, s := range stageOrder {
			if i < stop {
				counts[s].In++
				counts[s].Passed++
			} else if i == stop {
				counts[s].In++
				if o.Status == OutcomePassed {
					counts[s].Passed++
				} else {
					counts[s].Stopped++
				}
			}
		}
	}
	return counts
}

// clone makes an independent copy safe to hand across goroutines.
func (r *Run) clone() *Run {
	cp := *r
	cp.Outcomes = append([]Outcome(nil), r.Outcomes...)
	cp.Failures = append([]string(nil), r.Failures...)
	if r.Counts != nil {
		cp.Counts = make(Counts, len(r.Counts))
		for stage, sc := range r.Counts {
			c := *sc
			cp.Counts[stage] = &c
		}
	}
	return &cp
}
