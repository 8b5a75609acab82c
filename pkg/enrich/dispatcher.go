// Package enrich defers expensive metadata work to the background
// queue and hosts the workers that perform it.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"tunecanon/pkg/provenance"
	"tunecanon/pkg/queue"
)

// Enqueuer is the slice of the queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (queue.Job, error)
}

// Metadata checks run before artwork caching; artwork is heavier and
// retried with exponential backoff.
const (
	PriorityMetadata = 1
	PriorityArtwork  = 5

	maxJobAttempts     = 3
	artworkBackoffBase = 30 * time.Second
)

// Outcome reports the fate of one enqueue attempt so callers and tests
// can assert on dispatch results without scraping logs.
type Outcome struct {
	JobType  string
	JobID    string
	Enqueued bool
	Reason   string
}

type Dispatcher struct {
	q Enqueuer
}

func NewDispatcher(q Enqueuer) *Dispatcher {
	return &Dispatcher{q: q}
}

// DispatchIfCreated enqueues the enrichment jobs for a freshly created
// entity. It is a no-op when created is false: entities that already
// existed were either enriched before or have jobs in flight.
//
// Dispatch runs strictly after the creating transaction committed; an
// enqueue failure is warned about and reported in the outcome, never
// propagated — the entity exists and is simply not yet enriched.
func (d *Dispatcher) DispatchIfCreated(ctx context.Context, entityType, entityID string, created bool, op provenance.OpContext) []Outcome {
	if !created {
		return nil
	}
	jobs := []queue.Job{
		{
			Type:        queue.TypeMetadataCheck,
			EntityType:  entityType,
			EntityID:    entityID,
			Priority:    PriorityMetadata,
			MaxAttempts: maxJobAttempts,
			RequestID:   op.RequestID,
			ParentJobID: op.RootJobID,
		},
		{
			Type:        queue.TypeArtworkCache,
			EntityType:  entityType,
			EntityID:    entityID,
			Priority:    PriorityArtwork,
			MaxAttempts: maxJobAttempts,
			BackoffBase: artworkBackoffBase,
			RequestID:   op.RequestID,
			ParentJobID: op.RootJobID,
		},
	}

	outcomes := make([]Outcome, 0, len(jobs))
	for _, job := range jobs {
		if d == nil || d.q == nil {
			outcomes = append(outcomes, Outcome{JobType: job.Type, Reason: "no queue configured"})
			continue
		}
		enqueued, err := d.q.Enqueue(ctx, job)
		if err != nil {
			slog.Warn("enrichment enqueue failed",
				"job_type", job.Type,
				"entity_type", entityType,
				"entity_id", entityID,
				"err", err,
			)
			outcomes = append(outcomes, Outcome{JobType: job.Type, Reason: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{JobType: job.Type, JobID: enqueued.ID, Enqueued: true})
	}
	return outcomes
}
