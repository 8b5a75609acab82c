// Package provenance appends the immutable audit trail of creation and
// enrichment events. It is best-effort by contract: a failed append is
// warned about and never fails the business operation that triggered it.
package provenance

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tunecanon/internal/util"
	"tunecanon/pkg/domain"
)

// OpContext threads one logical user action through its side effects.
// The root record of an action carries no parent; children (an artist
// created while resolving an album, an enqueued enrichment job) share
// the root job id and point at their parent.
type OpContext struct {
	RequestID   string
	JobID       string
	RootJobID   string
	ParentJobID string
}

// NewOp starts a fresh operation chain.
func NewOp(requestID string) OpContext {
	jobID := uuid.NewString()
	return OpContext{
		RequestID: requestID,
		JobID:     jobID,
		RootJobID: jobID,
	}
}

// Child derives the context for a side-effect operation of o.
func (o OpContext) Child() OpContext {
	return OpContext{
		RequestID:   o.RequestID,
		JobID:       uuid.NewString(),
		RootJobID:   o.RootJobID,
		ParentJobID: o.JobID,
	}
}

// Appender is the slice of the store the logger needs.
type Appender interface {
	AppendProvenance(rec domain.ProvenanceRecord) error
}

// Entry describes one event to record.
type Entry struct {
	EntityType string
	EntityID   string
	Operation  string
	Category   string
	Sources    []string
	Status     string
	Metadata   map[string]string
}

// Outcome reports whether an entry was persisted, so tests can assert
// on side-effect results instead of scraping logs.
type Outcome struct {
	Logged bool
	Reason string
}

type Logger struct {
	store Appender
}

func NewLogger(store Appender) *Logger {
	return &Logger{store: store}
}

// Log appends one record. Failures are downgraded to a warning and an
// Outcome with the reason; they never propagate to the caller.
func (l *Logger) Log(op OpContext, e Entry) Outcome {
	if l == nil || l.store == nil {
		return Outcome{Reason: "no provenance store configured"}
	}
	status := e.Status
	if status == "" {
		status = domain.ProvenanceSuccess
	}
	rec := domain.ProvenanceRecord{
		ID:          util.NewID(),
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Operation:   e.Operation,
		Category:    e.Category,
		Sources:     e.Sources,
		Status:      status,
		JobID:       op.JobID,
		ParentJobID: op.ParentJobID,
		RootJobID:   op.RootJobID,
		RequestID:   op.RequestID,
		Metadata:    e.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.store.AppendProvenance(rec); err != nil {
		slog.Warn("provenance append failed",
			"operation", e.Operation,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"root_job_id", op.RootJobID,
			"err", err,
		)
		return Outcome{Reason: err.Error()}
	}
	return Outcome{Logged: true}
}

// SourceList renders sources for an entry, dropping empties.
func SourceList(sources ...string) []string {
	var res []string
	for _, s := range sources {
		if strings.TrimSpace(s) != "" {
			res = append(res, s)
		}
	}
	return res
}
