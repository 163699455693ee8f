// Package jobstore provides a NATS JetStream-backed job queue and job state
// store.
//
// Delivery uses a work-queue stream with a durable pull consumer, so a queued
// job is handed to exactly one worker. Job records live in a KV bucket; every
// state transition writes the whole record in a single put, so a concurrent
// reader always sees a consistent snapshot (never a completed state without
// its result id).
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/video-service/internal/core"
)

const fetchWait = 5 * time.Second

// ErrJobExists indicates an enqueue with an id that is already recorded.
var ErrJobExists = errors.New("job already exists")

// NatsJobStore implements core.JobStore on NATS JetStream.
type NatsJobStore struct {
	jetstreamContext nats.JetStreamContext
	records          nats.KeyValue
	subscription     *nats.Subscription
	subject          string
}

// Options configures the stream, consumer and bucket names used by the store.
type Options struct {
	StreamName   string
	ConsumerName string
	Subject      string
	JobBucket    string
}

// New creates and initializes a NatsJobStore, creating the stream, the
// durable consumer and the record bucket if they do not exist yet.
//
// The consumer is created with MaxDeliver set to one: a job fetched by a
// worker that dies mid-flight is not redelivered, it stays active until an
// operator intervenes. Automatic requeue would break the one-directional
// state transitions.
func New(jetstreamContext nats.JetStreamContext, opts Options) (*NatsJobStore, error) {
	_, err := jetstreamContext.AddStream(&nats.StreamConfig{
		Name:      opts.StreamName,
		Subjects:  []string{opts.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("failed to create job stream '%s': %w", opts.StreamName, err)
	}

	records, err := createOrBindKV(jetstreamContext, opts.JobBucket)
	if err != nil {
		return nil, err
	}

	subscription, err := jetstreamContext.PullSubscribe(
		opts.Subject,
		opts.ConsumerName,
		nats.AckExplicit(),
		nats.MaxDeliver(1),
		nats.BindStream(opts.StreamName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer '%s': %w", opts.ConsumerName, err)
	}

	return &NatsJobStore{
		jetstreamContext: jetstreamContext,
		records:          records,
		subscription:     subscription,
		subject:          opts.Subject,
	}, nil
}

func createOrBindKV(jetstreamContext nats.JetStreamContext, bucket string) (nats.KeyValue, error) {
	records, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Job records for the %s bucket.", bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err == nil {
		return records, nil
	}

	records, bindErr := jetstreamContext.KeyValue(bucket)
	if bindErr != nil {
		return nil, fmt.Errorf("failed to create or bind job bucket '%s': %w", bucket, err)
	}

	return records, nil
}

// Enqueue persists the job record and publishes its id for pickup.
func (s *NatsJobStore) Enqueue(ctx context.Context, job core.Job) error {
	if job.State != core.StateQueued {
		return fmt.Errorf("job '%s' must be enqueued in the queued state, got '%s'", job.ID, job.State)
	}

	_, err := s.records.Get(job.ID)
	if err == nil {
		return fmt.Errorf("%w: '%s'", ErrJobExists, job.ID)
	}

	putErr := s.putRecord(job)
	if putErr != nil {
		return putErr
	}

	_, pubErr := s.jetstreamContext.Publish(s.subject, []byte(job.ID), nats.Context(ctx))
	if pubErr != nil {
		return fmt.Errorf("failed to publish job '%s' for pickup: %w", job.ID, pubErr)
	}

	return nil
}

// Dequeue blocks until a job is available or ctx is done. The queue message
// is acked on receipt; the job record is the source of truth from here on.
func (s *NatsJobStore) Dequeue(ctx context.Context) (core.Job, error) {
	for {
		msgs, err := s.subscription.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				select {
				case <-ctx.Done():
					return core.Job{}, fmt.Errorf("dequeue cancelled: %w", ctx.Err())
				default:
					continue
				}
			}

			return core.Job{}, fmt.Errorf("failed to fetch from job stream: %w", err)
		}

		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]

		ackErr := msg.Ack()
		if ackErr != nil {
			return core.Job{}, fmt.Errorf("failed to ack job message: %w", ackErr)
		}

		job, getErr := s.Get(ctx, string(msg.Data))
		if getErr != nil {
			return core.Job{}, fmt.Errorf("dequeued job has no record: %w", getErr)
		}

		return job, nil
	}
}

// Get returns the current record for the job, or core.ErrJobNotFound.
func (s *NatsJobStore) Get(_ context.Context, jobID string) (core.Job, error) {
	entry, err := s.records.Get(jobID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return core.Job{}, fmt.Errorf("%w: '%s'", core.ErrJobNotFound, jobID)
		}

		return core.Job{}, fmt.Errorf("failed to get job record '%s': %w", jobID, err)
	}

	var job core.Job

	unmarshalErr := json.Unmarshal(entry.Value(), &job)
	if unmarshalErr != nil {
		return core.Job{}, fmt.Errorf("failed to unmarshal job record '%s': %w", jobID, unmarshalErr)
	}

	return job, nil
}

// SetActive marks the job as being processed by a worker.
func (s *NatsJobStore) SetActive(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, func(job *core.Job) error {
		if job.State != core.StateQueued {
			return fmt.Errorf("job '%s' cannot become active from state '%s'", jobID, job.State)
		}

		job.State = core.StateActive
		job.StartedAt = time.Now().UTC()

		return nil
	})
}

// SetCompleted records the terminal completed state with its result file id.
func (s *NatsJobStore) SetCompleted(ctx context.Context, jobID, fileID string) error {
	return s.transition(ctx, jobID, func(job *core.Job) error {
		if job.State.Terminal() {
			return fmt.Errorf("job '%s' is already terminal in state '%s'", jobID, job.State)
		}

		job.State = core.StateCompleted
		job.ResultFileID = fileID
		job.FinishedAt = time.Now().UTC()

		return nil
	})
}

// SetFailed records the terminal failed state with stage attribution.
func (s *NatsJobStore) SetFailed(ctx context.Context, jobID string, stage core.Stage, message string) error {
	return s.transition(ctx, jobID, func(job *core.Job) error {
		if job.State.Terminal() {
			return fmt.Errorf("job '%s' is already terminal in state '%s'", jobID, job.State)
		}

		job.State = core.StateFailed
		job.ErrorStage = stage
		job.ErrorMessage = message
		job.FinishedAt = time.Now().UTC()

		return nil
	})
}

func (s *NatsJobStore) transition(ctx context.Context, jobID string, mutate func(*core.Job) error) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	mutateErr := mutate(&job)
	if mutateErr != nil {
		return mutateErr
	}

	return s.putRecord(job)
}

func (s *NatsJobStore) putRecord(job core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job record '%s': %w", job.ID, err)
	}

	_, putErr := s.records.Put(job.ID, data)
	if putErr != nil {
		return fmt.Errorf("failed to put job record '%s': %w", job.ID, putErr)
	}

	return nil
}
