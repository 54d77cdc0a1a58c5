// Package transcode runs batch encode and decode jobs through codec sessions.
//
// Encode jobs read raw little-endian PCM in fixed-size chunks that have no
// relation to the engine frame size, feed them to an [session.EncoderSession]
// and write every compressed unit to a packet dump. Decode jobs read a packet
// dump and write the converted PCM. Jobs run concurrently up to a limit.
package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/framegate/internal/config"
	"github.com/MrWong99/framegate/internal/observe"
	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/silence"
)

// Report summarises one finished job.
type Report struct {
	Job  string
	ID   string
	Mode config.Mode

	// Units is the number of compressed units written (encode) or read
	// (decode).
	Units int

	// Samples is the number of raw samples per channel read (encode) or
	// written (decode).
	Samples int64

	// Silences lists the silent stretches found in the output of a decode
	// job with silence detection enabled.
	Silences []silence.Span

	Duration time.Duration
	Err      error
}

// Status returns the metric status label of the report.
func (r Report) Status() string {
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, context.Canceled), errors.Is(r.Err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

// Runner executes jobs against the engines of a registry.
type Runner struct {
	reg         *codec.Registry
	metrics     *observe.Metrics
	log         *slog.Logger
	concurrency int
	failFast    bool
}

// Option is a functional option for [New].
type Option func(*Runner)

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the base logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithConcurrency limits the number of jobs running at once. Values below 1
// mean one job at a time.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithFailFast cancels the remaining jobs after the first failure.
func WithFailFast(on bool) Option {
	return func(r *Runner) { r.failFast = on }
}

// New returns a Runner that resolves job engines in reg.
func New(reg *codec.Registry, opts ...Option) *Runner {
	r := &Runner{reg: reg, concurrency: 1}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Run executes jobs and returns one report per job in input order. Without
// fail-fast every job runs and the returned error joins all job errors. With
// fail-fast the first failure cancels the jobs still running or queued and is
// returned alone.
func (r *Runner) Run(ctx context.Context, jobs []config.JobConfig) ([]Report, error) {
	reports := make([]Report, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			jobCtx := ctx
			if r.failFast {
				jobCtx = gctx
			}
			if err := jobCtx.Err(); err != nil {
				reports[i] = Report{Job: job.Name, Mode: job.Mode, Err: err}
				return nil
			}
			reports[i] = r.RunJob(jobCtx, job)
			if r.failFast {
				return reports[i].Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}

	var errs []error
	for _, rep := range reports {
		if rep.Err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", rep.Job, rep.Err))
		}
	}
	return reports, errors.Join(errs...)
}

// RunJob executes a single job synchronously.
func (r *Runner) RunJob(ctx context.Context, job config.JobConfig) Report {
	rep := Report{Job: job.Name, ID: uuid.NewString(), Mode: job.Mode}
	start := time.Now()

	ctx, span := observe.StartJobSpan(ctx, observe.Job{
		Name:   job.Name,
		ID:     rep.ID,
		Mode:   string(job.Mode),
		Engine: job.Engine,
	})

	log := observe.Logger(ctx, r.log).With("job", job.Name, "job_id", rep.ID, "mode", string(job.Mode))
	log.Info("job started", "engine", job.Engine, "input", job.Input, "output", job.Output)

	rep.Err = r.runJob(ctx, job, &rep, log)
	rep.Duration = time.Since(start)
	r.metrics.RecordJob(ctx, string(job.Mode), rep.Status(), rep.Duration.Seconds())
	observe.EndJobSpan(span, rep.Err, rep.Units, rep.Samples)

	if rep.Err != nil {
		log.Error("job failed", "err", rep.Err, "duration", rep.Duration)
		return rep
	}
	log.Info("job finished", "units", rep.Units, "samples", rep.Samples, "silences", len(rep.Silences), "duration", rep.Duration)
	return rep
}

func (r *Runner) runJob(ctx context.Context, job config.JobConfig, rep *Report, log *slog.Logger) error {
	engine, err := r.reg.Lookup(job.Engine)
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	format, err := job.SampleFormat()
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}

	in, err := os.Open(job.Input)
	if err != nil {
		return fmt.Errorf("transcode: open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(job.Output)
	if err != nil {
		return fmt.Errorf("transcode: create output: %w", err)
	}

	t := task{
		job:    job,
		engine: engine,
		format: format,
		obs:    r.metrics.SessionObserver(ctx, engine.Name()),
		log:    log,
		rep:    rep,
	}
	switch job.Mode {
	case config.ModeEncode:
		err = t.encode(ctx, bufio.NewReader(in), out)
	case config.ModeDecode:
		err = t.decode(ctx, in, out)
	default:
		err = fmt.Errorf("transcode: unknown mode %q", job.Mode)
	}
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("transcode: close output: %w", cerr)
	}
	return err
}

// readChunk reads up to len(buf) bytes. It returns io.EOF only when nothing
// was read.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
