package message

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	pipeerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// JSContext defines the minimal subset of JetStream operations the service
// depends on. Tests provide a mock without requiring a running NATS server.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error)
	ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error)
}

// JSSubscription abstracts the subscription operations used by the service.
// Implemented by the real nats.Subscription via adapter and by test doubles.
type JSSubscription interface {
	Unsubscribe() error
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// WrapNATSJetStream adapts a nats.JetStreamContext to the JSContext interface.
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.Publish(subj, data, opts...)
}

func (a *natsJSAdapter) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	return a.js.PullSubscribe(subj, durable, opts...)
}

func (a *natsJSAdapter) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg)
}

func (a *natsJSAdapter) ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error) {
	return a.js.ConsumerInfo(stream, consumer)
}

func (a *natsJSAdapter) AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	return a.js.AddConsumer(stream, cfg)
}

// JobService provides JetStream operations for conversion jobs and results.
type JobService struct {
	js            JSContext
	logger        *zap.Logger
	resultSubject string
}

// NewJobService creates a job service over an existing JetStream context.
func NewJobService(js JSContext, resultSubject string, logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resultSubject == "" {
		resultSubject = "conversion.result"
	}
	return &JobService{js: js, logger: logger, resultSubject: resultSubject}
}

// WithLogger returns a copy of the service writing to logger, keeping the
// JetStream context and result subject.
func (s *JobService) WithLogger(logger *zap.Logger) *JobService {
	if logger == nil {
		return s
	}
	return &JobService{js: s.js, logger: logger, resultSubject: s.resultSubject}
}

// EnsureStream creates the stream if it does not exist.
func (s *JobService) EnsureStream(streamName string) error {
	if s.js == nil {
		return pipeerrors.ErrNotConnected
	}

	info, err := s.js.StreamInfo(streamName)
	if err == nil {
		s.logger.Debug("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", info.State.Msgs))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info for %q: %w", streamName, err)
	}

	s.logger.Info("Creating JetStream stream", zap.String("stream", streamName))
	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{fmt.Sprintf("%s.*", streamName)},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %q: %w", streamName, err)
	}
	return nil
}

// EnsureConsumer creates a durable pull consumer on the stream if it does
// not exist.
func (s *JobService) EnsureConsumer(streamName, consumerName string) error {
	if s.js == nil {
		return pipeerrors.ErrNotConnected
	}

	if _, err := s.js.ConsumerInfo(streamName, consumerName); err == nil {
		return nil
	}

	s.logger.Info("Creating JetStream consumer",
		zap.String("stream", streamName),
		zap.String("consumer", consumerName))
	_, err := s.js.AddConsumer(streamName, &nats.ConsumerConfig{
		Durable:    consumerName,
		AckPolicy:  nats.AckExplicitPolicy,
		AckWait:    30 * time.Second,
		MaxDeliver: 5,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %q on stream %q: %w", consumerName, streamName, err)
	}
	return nil
}

// PublishJob publishes a conversion job to the given subject.
func (s *JobService) PublishJob(ctx context.Context, subject string, job *ConversionJob) error {
	if s.js == nil {
		return pipeerrors.ErrNotConnected
	}
	if subject == "" {
		return pipeerrors.NewError("INVALID_SUBJECT", "subject cannot be empty", pipeerrors.ErrInvalidSubject)
	}
	if job == nil {
		return pipeerrors.NewError("INVALID_JOB", "job cannot be nil", pipeerrors.ErrInvalidJob)
	}
	if err := job.Validate(); err != nil {
		return pipeerrors.NewError("INVALID_JOB", "job failed validation", err)
	}

	data, err := job.ToBytes()
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.JobID, err)
	}

	return s.publish(ctx, subject, data, job.JobID)
}

// PublishResult publishes a conversion result to the configured result
// subject.
func (s *JobService) PublishResult(ctx context.Context, result *ConversionResult) error {
	if s.js == nil {
		return pipeerrors.ErrNotConnected
	}
	if result == nil {
		return pipeerrors.NewError("INVALID_RESULT", "result cannot be nil", nil)
	}

	data, err := result.ToBytes()
	if err != nil {
		return fmt.Errorf("failed to marshal result for job %s: %w", result.JobID, err)
	}

	return s.publish(ctx, s.resultSubject, data, result.JobID)
}

// publish sends raw bytes to JetStream, honouring context cancellation.
func (s *JobService) publish(ctx context.Context, subject string, data []byte, jobID string) error {
	resultCh := make(chan error, 1)
	go func() {
		_, err := s.js.Publish(subject, data)
		resultCh <- err
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("Publish cancelled",
			zap.String("subject", subject),
			zap.String("job_id", jobID),
			zap.Error(ctx.Err()))
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			s.logger.Error("Failed to publish to JetStream",
				zap.String("subject", subject),
				zap.String("job_id", jobID),
				zap.Error(err))
			return pipeerrors.NewError("PUBLISH_FAILED", "failed to publish to JetStream", err)
		}
		s.logger.Debug("Published to JetStream",
			zap.String("subject", subject),
			zap.String("job_id", jobID))
		return nil
	}
}

// PullJobs fetches up to batchSize jobs from a durable pull consumer. Jobs
// are not acknowledged automatically; callers Ack, Nak or Term each job.
// Returns an empty slice (not an error) when no jobs arrive in time.
func (s *JobService) PullJobs(ctx context.Context, stream, consumer string, batchSize int) ([]*ConversionJob, error) {
	if s.js == nil {
		return nil, pipeerrors.ErrNotConnected
	}
	if stream == "" || consumer == "" {
		return nil, fmt.Errorf("stream and consumer names are required")
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	type pullResult struct {
		jobs []*ConversionJob
		err  error
	}
	resultCh := make(chan pullResult, 1)

	go func() {
		sub, err := s.js.PullSubscribe("", consumer, nats.Bind(stream, consumer))
		if err != nil {
			resultCh <- pullResult{err: err}
			return
		}
		defer sub.Unsubscribe()

		timeout := 3 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		natsMsgs, err := sub.Fetch(batchSize, nats.MaxWait(timeout))
		if err != nil {
			if err == nats.ErrTimeout {
				resultCh <- pullResult{jobs: []*ConversionJob{}}
				return
			}
			resultCh <- pullResult{err: err}
			return
		}

		jobs := make([]*ConversionJob, 0, len(natsMsgs))
		for _, natsMsg := range natsMsgs {
			job, err := JobFromNATSMsg(natsMsg)
			if err != nil {
				s.logger.Error("Discarding malformed job", zap.Error(err))
				_ = natsMsg.Term()
				continue
			}
			jobs = append(jobs, job)
		}
		resultCh <- pullResult{jobs: jobs}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			s.logger.Debug("Pull cancelled during shutdown",
				zap.String("stream", stream),
				zap.String("consumer", consumer))
		} else {
			s.logger.Warn("Pull cancelled",
				zap.String("stream", stream),
				zap.String("consumer", consumer),
				zap.Error(ctx.Err()))
		}
		return nil, fmt.Errorf("pull cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			s.logger.Error("Failed to pull jobs from JetStream",
				zap.String("stream", stream),
				zap.String("consumer", consumer),
				zap.Error(res.err))
			return nil, pipeerrors.NewError("PULL_FAILED", "failed to pull jobs from JetStream", res.err)
		}
		return res.jobs, nil
	}
}
