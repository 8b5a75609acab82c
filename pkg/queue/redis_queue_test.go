package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Name:       "test:enrich",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, context.Background()
}

func TestEnqueueAndGetJob(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, Job{
		Type:        TypeMetadataCheck,
		EntityType:  "album",
		EntityID:    "a1",
		Priority:    1,
		MaxAttempts: 3,
		RequestID:   "req-1",
		ParentJobID: "root-1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected minted job id")
	}

	got, found, err := q.GetJob(ctx, job.ID)
	if err != nil || !found {
		t.Fatalf("get job: found=%v err=%v", found, err)
	}
	if got.Status != StatusQueued || got.Type != TypeMetadataCheck || got.EntityID != "a1" {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.RequestID != "req-1" || got.ParentJobID != "root-1" {
		t.Fatalf("traceability fields lost: %+v", got)
	}
}

func TestLowerPriorityValueServedFirst(t *testing.T) {
	q, ctx := newTestQueue(t)

	// enqueue the lower-urgency job first so FIFO alone cannot pass this
	artwork, _ := q.Enqueue(ctx, Job{Type: TypeArtworkCache, EntityType: "album", EntityID: "a1", Priority: 5})
	metadata, _ := q.Enqueue(ctx, Job{Type: TypeMetadataCheck, EntityType: "album", EntityID: "a1", Priority: 1})

	var order []string
	ran, err := q.RunOnce(ctx, func(_ context.Context, job Job) error {
		order = append(order, job.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if ran != 2 {
		t.Fatalf("ran %d jobs, want 2", ran)
	}
	if order[0] != metadata.ID || order[1] != artwork.ID {
		t.Fatalf("order = %v, want metadata before artwork", order)
	}
}

func TestSamePriorityIsFIFO(t *testing.T) {
	q, ctx := newTestQueue(t)

	first, _ := q.Enqueue(ctx, Job{Type: TypeMetadataCheck, EntityType: "album", EntityID: "a1", Priority: 1})
	second, _ := q.Enqueue(ctx, Job{Type: TypeMetadataCheck, EntityType: "album", EntityID: "a2", Priority: 1})

	var order []string
	_, err := q.RunOnce(ctx, func(_ context.Context, job Job) error {
		order = append(order, job.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(order) != 2 || order[0] != first.ID || order[1] != second.ID {
		t.Fatalf("order = %v", order)
	}
}

func TestFailedJobRetriesThenFails(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, _ := q.Enqueue(ctx, Job{Type: TypeMetadataCheck, EntityType: "album", EntityID: "a1", MaxAttempts: 3})

	attempts := 0
	handler := func(_ context.Context, _ Job) error {
		attempts++
		return errors.New("upstream down")
	}

	for i := 0; i < 3; i++ {
		time.Sleep(2 * time.Millisecond) // let the retry delay elapse
		if _, err := q.RunOnce(ctx, handler); err != nil {
			t.Fatalf("run once: %v", err)
		}
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	got, found, err := q.GetJob(ctx, job.ID)
	if err != nil || !found {
		t.Fatalf("get job: found=%v err=%v", found, err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != "upstream down" {
		t.Fatalf("error = %q", got.ErrorMessage)
	}

	// nothing left to run
	ran, err := q.RunOnce(ctx, handler)
	if err != nil || ran != 0 {
		t.Fatalf("expected empty queue, ran=%d err=%v", ran, err)
	}
}

func TestSuccessAfterRetry(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, _ := q.Enqueue(ctx, Job{Type: TypeArtworkCache, EntityType: "album", EntityID: "a1", MaxAttempts: 3})

	calls := 0
	handler := func(_ context.Context, _ Job) error {
		calls++
		if calls == 1 {
			return errors.New("flaky")
		}
		return nil
	}
	for i := 0; i < 2; i++ {
		time.Sleep(2 * time.Millisecond)
		if _, err := q.RunOnce(ctx, handler); err != nil {
			t.Fatalf("run once: %v", err)
		}
	}

	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
}

func TestExponentialBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	q.maxBackoff = 8 * time.Second

	job := Job{BackoffBase: time.Second}
	cases := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 8 * time.Second, // capped
	}
	for attempts, want := range cases {
		job.Attempts = attempts
		if got := q.backoff(job); got != want {
			t.Errorf("backoff after attempt %d = %v, want %v", attempts, got, want)
		}
	}

	// fixed delay when no base configured
	if got := q.backoff(Job{Attempts: 3}); got != q.retryDelay {
		t.Errorf("fixed backoff = %v, want %v", got, q.retryDelay)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, err := q.Enqueue(ctx, Job{EntityID: "a1"}); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := q.Enqueue(ctx, Job{Type: TypeMetadataCheck}); err == nil {
		t.Fatal("expected error for missing entity id")
	}
}
