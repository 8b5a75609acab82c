// Package queue implements the prioritized background job queue on
// Redis. Jobs wait in a sorted set scored by (priority, enqueue order);
// retries wait in a second sorted set scored by their retry deadline.
// Each job's state lives in a hash with a TTL.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job type names understood by the enrichment workers.
const (
	TypeMetadataCheck = "metadata_check"
	TypeArtworkCache  = "artwork_cache"
)

// Job is one unit of deferred work. Lower Priority is served sooner.
// A zero BackoffBase means retries wait the queue's fixed retry delay;
// otherwise waits double per attempt starting from BackoffBase.
type Job struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	EntityType   string        `json:"entityType"`
	EntityID     string        `json:"entityId"`
	Priority     int           `json:"priority"`
	Attempts     int           `json:"attempts"`
	MaxAttempts  int           `json:"maxAttempts"`
	BackoffBase  time.Duration `json:"backoffBase"`
	RequestID    string        `json:"requestId,omitempty"`
	ParentJobID  string        `json:"parentJobId,omitempty"`
	Status       string        `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// prioritySpan leaves room for 2^40 enqueues per priority tier before
// tiers could collide in the ready-set score.
const prioritySpan = float64(1 << 40)

type RedisJobQueue struct {
	client     *redis.Client
	name       string
	jobTTL     time.Duration
	retryDelay time.Duration
	maxBackoff time.Duration
	poll       time.Duration
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Name       string
	JobTTL     time.Duration
	RetryDelay time.Duration
	MaxBackoff time.Duration
	Poll       time.Duration
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("queue name required")
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 15 * time.Minute
	}
	poll := cfg.Poll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &RedisJobQueue{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		name:       name,
		jobTTL:     jobTTL,
		retryDelay: retryDelay,
		maxBackoff: maxBackoff,
		poll:       poll,
	}, nil
}

// Enqueue persists the job state and places it in the ready set. The id
// is minted here when absent; callers get it back in the returned job.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if strings.TrimSpace(job.Type) == "" {
		return Job{}, errors.New("job type required")
	}
	if strings.TrimSpace(job.EntityID) == "" {
		return Job{}, errors.New("entity id required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	job.Status = StatusQueued
	job.Attempts = 0
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt

	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return Job{}, err
	}
	score := float64(job.Priority)*prioritySpan + float64(seq)
	if err := q.client.ZAdd(ctx, q.readyKey(), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob returns the stored state of a job.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches consumer goroutines. The handler's error decides the
// job's fate: nil acks it done, an error requeues with backoff until
// MaxAttempts, then the job is marked failed.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Job) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, handler)
	}
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, handler func(context.Context, Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = q.promoteDelayed(ctx)

		jobID, ok, err := q.popReady(ctx)
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.poll):
			}
			continue
		}
		q.runJob(ctx, jobID, handler)
	}
}

// RunOnce drains whatever is currently due and runs it on the calling
// goroutine. Intended for tests and batch tooling.
func (q *RedisJobQueue) RunOnce(ctx context.Context, handler func(context.Context, Job) error) (int, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return 0, err
	}
	ran := 0
	for {
		jobID, ok, err := q.popReady(ctx)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		q.runJob(ctx, jobID, handler)
		ran++
	}
}

func (q *RedisJobQueue) runJob(ctx context.Context, jobID string, handler func(context.Context, Job) error) {
	job, found, err := q.GetJob(ctx, jobID)
	if err != nil || !found {
		return
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return
	}

	if err := handler(ctx, job); err == nil {
		job.Status = StatusDone
		job.ErrorMessage = ""
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		return
	} else if job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		return
	} else {
		job.Status = StatusQueued
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		retryAt := time.Now().Add(q.backoff(job))
		_ = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(retryAt.UnixMilli()),
			Member: job.ID,
		}).Err()
	}
}

// backoff computes the wait before the next attempt. Jobs with a
// backoff base double it per prior attempt; others use the fixed delay.
func (q *RedisJobQueue) backoff(job Job) time.Duration {
	if job.BackoffBase <= 0 {
		return q.retryDelay
	}
	delay := job.BackoffBase
	for i := 1; i < job.Attempts; i++ {
		delay *= 2
		if delay > q.maxBackoff {
			return q.maxBackoff
		}
	}
	return delay
}

// promoteDelayed moves due retries from the delayed set to the ready
// set, restoring their priority score.
func (q *RedisJobQueue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}
	for _, jobID := range due {
		job, found, err := q.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		removed, err := q.client.ZRem(ctx, q.delayedKey(), jobID).Result()
		if err != nil || removed == 0 {
			continue
		}
		if !found {
			continue
		}
		seq, err := q.client.Incr(ctx, q.seqKey()).Result()
		if err != nil {
			return err
		}
		score := float64(job.Priority)*prioritySpan + float64(seq)
		if err := q.client.ZAdd(ctx, q.readyKey(), redis.Z{Score: score, Member: jobID}).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisJobQueue) popReady(ctx context.Context) (string, bool, error) {
	res, err := q.client.ZPopMin(ctx, q.readyKey(), 1).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	if len(res) == 0 {
		return "", false, nil
	}
	jobID, _ := res[0].Member.(string)
	if jobID == "" {
		return "", false, nil
	}
	return jobID, true, nil
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job Job) error {
	payload := map[string]any{
		"type":        job.Type,
		"entityType":  job.EntityType,
		"entityId":    job.EntityID,
		"priority":    strconv.Itoa(job.Priority),
		"attempts":    strconv.Itoa(job.Attempts),
		"maxAttempts": strconv.Itoa(job.MaxAttempts),
		"backoffMs":   strconv.FormatInt(job.BackoffBase.Milliseconds(), 10),
		"requestId":   job.RequestID,
		"parentJobId": job.ParentJobID,
		"status":      job.Status,
		"error":       job.ErrorMessage,
		"createdAt":   job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, q.jobKey(job.ID), payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, q.jobKey(job.ID), q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.name, jobID)
}

func (q *RedisJobQueue) readyKey() string {
	return fmt.Sprintf("queue:%s:ready", q.name)
}

func (q *RedisJobQueue) delayedKey() string {
	return fmt.Sprintf("queue:%s:delayed", q.name)
}

func (q *RedisJobQueue) seqKey() string {
	return fmt.Sprintf("queue:%s:seq", q.name)
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{ID: jobID}
	job.Type = data["type"]
	job.EntityType = data["entityType"]
	job.EntityID = data["entityId"]
	job.RequestID = data["requestId"]
	job.ParentJobID = data["parentJobId"]
	job.Status = data["status"]
	job.ErrorMessage = data["error"]
	if v := data["priority"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Priority = n
		}
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["maxAttempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.MaxAttempts = n
		}
	}
	if v := data["backoffMs"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			job.BackoffBase = time.Duration(n) * time.Millisecond
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
