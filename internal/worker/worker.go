// Package worker runs one started job: it waits for the source to be safe to
// read, invokes the builder and turns every outcome into a terminal result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/assetq/internal/controller"
	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/fingerprint"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/wait"
	assetqerrors "github.com/alexisbeaulieu97/assetq/pkg/errors"
)

const (
	defaultPollInterval        = 100 * time.Millisecond
	defaultLockTimeout         = 30 * time.Second
	defaultFingerprintTimeout  = 10 * time.Second
	defaultFingerprintInterval = 250 * time.Millisecond
)

// Worker implements controller.Runner.
type Worker struct {
	builders     ports.BuilderRegistry
	cacheRoot    string
	locker       ports.FileLocker
	fingerprints ports.Fingerprinter
	lockPolicy   wait.Policy
	stablePolicy wait.Policy
	logger       ports.Logger
}

var _ controller.Runner = (*Worker)(nil)

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger ports.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithFileLocker replaces the exclusive-access check.
func WithFileLocker(locker ports.FileLocker) Option {
	return func(w *Worker) {
		if locker != nil {
			w.locker = locker
		}
	}
}

// WithFingerprinter replaces the content fingerprinter.
func WithFingerprinter(f ports.Fingerprinter) Option {
	return func(w *Worker) {
		if f != nil {
			w.fingerprints = f
		}
	}
}

// WithLockPolicy bounds the wait for exclusive access to the source.
func WithLockPolicy(policy wait.Policy) Option {
	return func(w *Worker) {
		w.lockPolicy = policy
	}
}

// WithFingerprintPolicy bounds the wait for the source fingerprint to settle.
func WithFingerprintPolicy(policy wait.Policy) Option {
	return func(w *Worker) {
		w.stablePolicy = policy
	}
}

// New creates a worker that writes products under cacheRoot/<platform>.
func New(builders ports.BuilderRegistry, cacheRoot string, opts ...Option) *Worker {
	w := &Worker{
		builders:     builders,
		cacheRoot:    cacheRoot,
		locker:       fingerprint.OpenLocker{},
		fingerprints: fingerprint.Blob{},
		lockPolicy:   wait.Policy{Interval: defaultPollInterval, MaxDuration: defaultLockTimeout},
		stablePolicy: wait.Policy{Interval: defaultFingerprintInterval, MaxDuration: defaultFingerprintTimeout},
		logger:       logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "worker")
	return w
}

// Run executes run and always returns a terminal result.
func (w *Worker) Run(ctx context.Context, run job.Run) job.Result {
	d := run.Details
	id := run.Identity()
	logger := w.logger.With("job", id.String(), "run_id", run.ID.String())

	if d.AutoFail {
		reason := d.FailureReason
		if reason == "" {
			reason = "job was submitted as a failure"
		}
		res := job.Failed(assetqerrors.NewJobError(id.String(), errors.New(reason)))
		res.Message = reason
		return res
	}

	builder, err := w.builders.Lookup(d.BuilderID)
	if err != nil {
		return job.Failed(assetqerrors.NewJobError(id.String(), err))
	}

	source := d.AbsolutePath()
	if res, ok := w.awaitSource(ctx, logger, source); !ok {
		return res
	}

	resp, err := builder.Build(ctx, ports.BuildRequest{
		RunID:            run.ID,
		SourcePath:       source,
		Source:           d.Source,
		Platform:         id.Platform,
		JobKey:           id.JobKey,
		OutputDir:        filepath.Join(w.cacheRoot, id.Platform),
		Params:           d.Params,
		PathDependencies: d.PathDependencies,
	})
	if ctx.Err() != nil {
		return job.Cancelled("cancelled during build")
	}
	if err != nil {
		logger.Warn(ctx, "builder failed", "builder", d.BuilderID, "error", err)
		return job.Failed(assetqerrors.NewJobError(id.String(), err))
	}

	if err := checkDuplicateProducts(resp.Products); err != nil {
		logger.Error(ctx, "builder reported duplicate products", "builder", d.BuilderID, "error", err)
		return job.Failed(assetqerrors.NewJobError(id.String(), err))
	}

	res := job.Completed(resp.Products)
	res.Message = resp.Message
	return res
}

// awaitSource waits for exclusive access to the source and then for its
// fingerprint to stop changing. It returns a terminal result and false when
// the job must not proceed.
func (w *Worker) awaitSource(ctx context.Context, logger ports.Logger, source string) (job.Result, bool) {
	err := wait.Until(ctx, w.lockPolicy, func() (bool, error) {
		return w.locker.TryLock(source)
	})
	if res, ok := waitOutcome(err, "exclusive access to "+source); !ok {
		logger.Warn(ctx, "source not available", "source", source, "error", err)
		return res, false
	}

	err = wait.Stable(ctx, w.stablePolicy, func() (uint64, error) {
		return w.fingerprints.Fingerprint(ctx, source)
	})
	if res, ok := waitOutcome(err, "a stable fingerprint of "+source); !ok {
		logger.Warn(ctx, "source did not settle", "source", source, "error", err)
		return res, false
	}
	return job.Result{}, true
}

func waitOutcome(err error, what string) (job.Result, bool) {
	switch {
	case err == nil:
		return job.Result{}, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return job.Cancelled("cancelled while waiting for " + what), false
	case errors.Is(err, wait.ErrTimeout):
		return job.Cancelled("timed out waiting for " + what), false
	default:
		return job.Failed(err), false
	}
}

// checkDuplicateProducts rejects a product list in which two entries share a
// sub id or an output name.
func checkDuplicateProducts(products []job.Product) error {
	subIDs := make(map[uint32]string, len(products))
	names := make(map[string]struct{}, len(products))
	for _, p := range products {
		if other, ok := subIDs[p.SubID]; ok {
			return job.NewError(job.ErrCodeDuplicateProduct,
				fmt.Sprintf("products %s and %s share sub id %d", other, p.Name, p.SubID), nil)
		}
		subIDs[p.SubID] = p.Name

		name := strings.ToLower(p.Name)
		if _, ok := names[name]; ok {
			return job.NewError(job.ErrCodeDuplicateProduct,
				fmt.Sprintf("product %s is reported twice", p.Name), nil)
		}
		names[name] = struct{}{}
	}
	return nil
}
