// Package runner provides the concurrent conversion worker. It pulls
// conversion jobs from a NATS JetStream consumer in batches, distributes
// them to worker goroutines, and publishes a result per job.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/client"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/message"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// defaultMaxInlineBytes is the largest node payload published inline; bigger
// results are offloaded to blob storage when a store is configured.
const defaultMaxInlineBytes = 1_500_000

// Runner manages concurrent conversion job processing from a JetStream
// consumer.
type Runner struct {
	client          *client.Client
	processor       Processor
	stream          string
	consumer        string
	batchSize       int
	numWorkers      int
	processTimeout  time.Duration
	logger          *zap.Logger
	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
	store           storage.PayloadStore
	maxInlineBytes  int
	limiter         *concurrency.Limiter
}

// NewRunner creates a runner over a connected client. store may be nil; in
// that case oversized results are published inline regardless of size.
// tracingConfig is optional; when provided, tracing is set up and torn down
// with the runner.
func NewRunner(c *client.Client, processor Processor, stream, consumer string, batchSize, numWorkers int, processTimeout time.Duration, logger *zap.Logger, store storage.PayloadStore, tracingConfig *TracingConfig) (*Runner, error) {
	if c == nil {
		return nil, errors.New("client cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if consumer == "" {
		return nil, errors.New("consumer name cannot be empty")
	}
	if batchSize <= 0 {
		return nil, errors.New("batchSize must be greater than 0")
	}
	if numWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if processTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := c.Jobs.EnsureStream(stream); err != nil {
		return nil, err
	}
	if err := c.Jobs.EnsureConsumer(stream, consumer); err != nil {
		return nil, err
	}

	r := &Runner{
		client:         c,
		processor:      processor,
		stream:         stream,
		consumer:       consumer,
		batchSize:      batchSize,
		numWorkers:     numWorkers,
		processTimeout: processTimeout,
		logger:         logger,
		tracer:         otel.Tracer("daedalus/runner"),
		store:          store,
		maxInlineBytes: defaultMaxInlineBytes,
		limiter:        concurrency.NewLimiter(concurrency.LoadConfig().MaxConcurrentScripts),
	}

	if tracingConfig != nil {
		shutdown, err := tracing.SetupTracing(context.Background(), tracingConfig.toInternalConfig(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			r.tracingShutdown = shutdown
		}
	}

	return r, nil
}

// Close shuts the runner down, flushing tracing if it was configured.
func (r *Runner) Close() error {
	if r.tracingShutdown != nil {
		return tracing.ShutdownTracing(r.tracingShutdown, r.logger)
	}
	return nil
}

// Run starts the job processing pipeline. It blocks until the context is
// cancelled and all workers have drained.
func (r *Runner) Run(ctx context.Context) error {
	jobChan := make(chan *message.ConversionJob, r.batchSize)

	var wg sync.WaitGroup
	for i := 0; i < r.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, jobChan)
		}(i)
	}

	go func() {
		defer close(jobChan)

		backoffDelay := 100 * time.Millisecond
		maxBackoff := 5 * time.Second

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Shutting down job puller")
				return
			default:
				jobs, err := r.client.Jobs.PullJobs(ctx, r.stream, r.consumer, r.batchSize)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					r.logger.Error("Error pulling jobs", zap.Error(err))
					time.Sleep(backoffDelay)
					if backoffDelay < maxBackoff {
						backoffDelay *= 2
					}
					continue
				}

				if len(jobs) == 0 {
					select {
					case <-time.After(500 * time.Millisecond):
					case <-ctx.Done():
						return
					}
					continue
				}

				backoffDelay = 100 * time.Millisecond

				for _, job := range jobs {
					select {
					case jobChan <- job:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		r.logger.Info("Runner completed")
		return nil
	case <-ctx.Done():
		r.logger.Info("Runner stopped due to context cancellation")
		return ctx.Err()
	}
}

// worker processes jobs from the channel until it closes.
func (r *Runner) worker(ctx context.Context, workerID int, jobChan <-chan *message.ConversionJob) {
	r.logger.Info("Worker started", zap.Int("worker_id", workerID))
	defer r.logger.Info("Worker stopped", zap.Int("worker_id", workerID))

	for {
		select {
		case job, ok := <-jobChan:
			if !ok {
				return
			}
			r.processJob(ctx, workerID, job)
		case <-ctx.Done():
			return
		}
	}
}

// processJob runs a single job through the processor, publishes its result
// and acknowledges the job. Deterministic failures (broken scripts,
// malformed jobs) produce an error result and are acknowledged so they are
// not redelivered; transient failures are nak'd for retry.
func (r *Runner) processJob(ctx context.Context, workerID int, job *message.ConversionJob) {
	ctx, span := r.tracer.Start(ctx, "runner.processJob",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.id", job.JobID),
			attribute.String("job.target", job.Target),
			attribute.String("stream", r.stream),
			attribute.String("consumer", r.consumer),
		))
	defer span.End()

	processCtx, cancel := context.WithTimeout(ctx, r.processTimeout)
	defer cancel()

	if err := r.limiter.Acquire(processCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("Could not acquire script evaluation slot",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.JobID),
			zap.Error(err))
		if nakErr := job.Nak(); nakErr != nil {
			r.logger.Error("Error naking job", zap.String("job_id", job.JobID), zap.Error(nakErr))
		}
		return
	}

	start := time.Now()
	result, processErr := r.processor.Process(processCtx, job)
	r.limiter.Release()
	processingTime := time.Since(start)
	span.SetAttributes(attribute.Int64("processing.duration_ms", processingTime.Milliseconds()))

	if processErr != nil {
		span.RecordError(processErr)
		span.SetStatus(codes.Error, processErr.Error())

		r.logger.Error("Error processing job",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.JobID),
			zap.Duration("processing_time", processingTime),
			zap.Error(processErr))

		if !isTerminal(processErr) {
			// Transient failures count against the circuit breaker;
			// broken scripts are the job's fault, not the pipeline's.
			r.limiter.RecordFailure()
			if nakErr := job.Nak(); nakErr != nil {
				r.logger.Error("Error naking job", zap.String("job_id", job.JobID), zap.Error(nakErr))
			}
			return
		}

		r.limiter.RecordSuccess()
		r.publishAndAck(job, message.NewErrorResult(job.JobID, processErr), workerID)
		return
	}

	r.limiter.RecordSuccess()

	span.SetStatus(codes.Ok, "Job processed successfully")
	span.SetAttributes(
		attribute.Int("result.kept", result.Kept),
		attribute.Int("result.dropped", result.Dropped),
	)

	r.logger.Info("Successfully processed job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.JobID),
		zap.Duration("processing_time", processingTime),
		zap.Int("kept", result.Kept),
		zap.Int("dropped", result.Dropped))

	r.offloadIfOversized(job, result)
	r.publishAndAck(job, result, workerID)
}

// offloadIfOversized moves the result's node list to blob storage when it
// exceeds the inline limit and a store is available.
func (r *Runner) offloadIfOversized(job *message.ConversionJob, result *message.ConversionResult) {
	if r.store == nil || len(result.Nodes) == 0 {
		return
	}

	data, err := json.Marshal(result.Nodes)
	if err != nil || len(data) <= r.maxInlineBytes {
		return
	}

	uploadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blobPath := storage.PayloadPath(job.JobID, "result")
	url, err := r.store.UploadPayload(uploadCtx, blobPath, data, map[string]string{
		"jobId": job.JobID,
	})
	if err != nil {
		r.logger.Warn("Failed to offload oversized result, publishing inline",
			zap.String("job_id", job.JobID),
			zap.Int("size_bytes", len(data)),
			zap.Error(err))
		return
	}

	result.NodesRef = &message.BlobReference{URL: url, SizeBytes: len(data)}
	result.Nodes = nil
}

// publishAndAck publishes the result on a background context so reporting
// survives shutdown, then acknowledges the job.
func (r *Runner) publishAndAck(job *message.ConversionJob, result *message.ConversionResult, workerID int) {
	reportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Jobs.PublishResult(reportCtx, result); err != nil {
		r.logger.Error("Error publishing result",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.JobID),
			zap.Error(err))
		if nakErr := job.Nak(); nakErr != nil {
			r.logger.Error("Error naking job after publish failure",
				zap.String("job_id", job.JobID), zap.Error(nakErr))
		}
		return
	}

	if ackErr := job.Ack(); ackErr != nil {
		r.logger.Error("Error acking job",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.JobID),
			zap.Error(ackErr))
	}
}
