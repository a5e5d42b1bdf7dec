// Package build wires the controller, the worker and the dependency store into
// the build pipeline: submissions go to the controller, and every completed
// job is cataloged on a separate goroutine before the controller is told the
// job's products are visible.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/assetq/internal/controller"
	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/pathdeps"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/wait"
)

// Service runs submissions through the controller and catalogs their results.
type Service struct {
	controller   *controller.Controller
	catalog      ports.CatalogStore
	resolver     *pathdeps.Resolver
	events       ports.EventPublisher
	metrics      ports.MetricsCollector
	fingerprints ports.Fingerprinter
	logger       ports.Logger

	stream *events.Stream
	subs   []ports.Subscription

	mu      sync.Mutex
	folders map[string]pathdep.ScanFolder
	summary Summary
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger ports.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records resolved dependency counts.
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithFingerprinter fills in the fingerprint of submissions that carry none.
func WithFingerprinter(f ports.Fingerprinter) Option {
	return func(s *Service) {
		s.fingerprints = f
	}
}

// Summary counts terminal job events seen by the service.
type Summary struct {
	Completed int
	Failed    int
	Cancelled int
	// Rejected counts duplicate submissions the controller dropped.
	Rejected int
	Failures []ports.JobEvent
}

// NewService subscribes to the controller's job events on publisher. The
// publisher must be the one the controller was built with.
func NewService(ctrl *controller.Controller, catalog ports.CatalogStore, resolver *pathdeps.Resolver, publisher ports.EventPublisher, opts ...Option) (*Service, error) {
	s := &Service{
		controller: ctrl,
		catalog:    catalog,
		resolver:   resolver,
		events:     publisher,
		metrics:    ports.NoopMetrics{},
		logger:     logging.NewNoOpLogger(),
		folders:    make(map[string]pathdep.ScanFolder),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "build")

	// Counting happens on the publishing goroutine so the summary is complete
	// as soon as the controller reports idle.
	for _, eventType := range []string{ports.EventJobCompleted, ports.EventJobFailed, ports.EventJobCancelled} {
		sub, err := publisher.Subscribe(eventType, s.record)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}

	stream, err := events.NewStream(publisher, ports.EventJobCompleted)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.stream = stream
	return s, nil
}

// RegisterScanFolder records a scan folder in the store.
func (s *Service) RegisterScanFolder(ctx context.Context, path, portableKey string) (pathdep.ScanFolder, error) {
	folder, err := s.catalog.EnsureScanFolder(ctx, path, portableKey)
	if err != nil {
		return pathdep.ScanFolder{}, err
	}
	s.mu.Lock()
	s.folders[folderKey(path)] = folder
	s.mu.Unlock()
	return folder, nil
}

// Run catalogs completed jobs until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	for {
		event, err := s.stream.Next(ctx)
		if err != nil {
			return err
		}
		if payload, ok := event.Payload().(ports.JobEvent); ok {
			s.catalogJob(ctx, payload)
		}
	}
}

// Close detaches the service from the publisher.
func (s *Service) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	if s.stream != nil {
		s.stream.Close()
	}
}

// SubmitBatch submits a batch in one controller step. Jobs of the same source
// and platform that declare the same expected product are turned into
// auto-fail jobs naming each other.
func (s *Service) SubmitBatch(ctx context.Context, batch []job.Details) ([]controller.SubmitResult, error) {
	prepared := flagDuplicateProducts(batch)
	if s.fingerprints != nil {
		for i := range prepared {
			d := &prepared[i]
			if d.AutoFail || d.Fingerprint != 0 {
				continue
			}
			fp, err := s.fingerprints.Fingerprint(ctx, d.AbsolutePath())
			if err != nil {
				s.logger.Debug(ctx, "cannot fingerprint source", "source", d.Source, "error", err)
				continue
			}
			d.Fingerprint = fp
		}
	}
	return s.controller.SubmitAll(ctx, prepared)
}

// WaitIdle polls the controller until nothing is queued, running or waiting
// to be cataloged.
func (s *Service) WaitIdle(ctx context.Context, policy wait.Policy) error {
	return wait.Until(ctx, policy, func() (bool, error) {
		stats, err := s.controller.Stats(ctx)
		if err != nil {
			return false, err
		}
		return stats.Pending == 0 && stats.InFlight == 0 && stats.AwaitingCatalog == 0, nil
	})
}

// Summary returns a copy of the counters.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.summary
	out.Failures = append([]ports.JobEvent(nil), s.summary.Failures...)
	return out
}

func (s *Service) record(_ context.Context, event ports.DomainEvent) error {
	payload, ok := event.Payload().(ports.JobEvent)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if payload.Handle == 0 {
		s.summary.Rejected++
		return nil
	}
	switch event.EventType() {
	case ports.EventJobCompleted:
		s.summary.Completed++
	case ports.EventJobFailed:
		s.summary.Failed++
		s.summary.Failures = append(s.summary.Failures, payload)
	case ports.EventJobCancelled:
		s.summary.Cancelled++
	}
	return nil
}

// catalogJob records the products of a completed job, resolves their path
// dependencies, retries placeholders that may now match the source and
// acknowledges the write. The acknowledgement is sent even when a step fails
// so dependents are never held back by a broken catalog write.
func (s *Service) catalogJob(ctx context.Context, ev ports.JobEvent) {
	id := ev.Identity
	event := ports.CatalogEvent{Identity: id, Products: len(ev.Products)}
	if err := s.catalogProducts(ctx, ev, &event); err != nil {
		s.logger.Error(ctx, "catalog write failed", "job", id.String(), "error", err)
	} else {
		s.publish(ctx, ports.Event{Type: ports.EventProductsCataloged, Data: event})
	}

	if err := s.controller.OnAddedToCatalog(ctx, id); err != nil {
		s.logger.Warn(ctx, "cannot acknowledge catalog write", "job", id.String(), "error", err)
	}
}

func (s *Service) catalogProducts(ctx context.Context, ev ports.JobEvent, out *ports.CatalogEvent) error {
	id := ev.Identity
	folder, err := s.folder(ctx, ev.ScanFolder)
	if err != nil {
		return err
	}
	source, err := s.catalog.UpsertSource(ctx, pathdep.Source{
		UUID:         ev.SourceUUID,
		ScanFolderID: folder.ID,
		Name:         id.Source,
	})
	if err != nil {
		return err
	}

	declared := make(map[uint32][]pathdep.Dependency, len(ev.Products))
	rows := make([]pathdep.Product, 0, len(ev.Products))
	for _, p := range ev.Products {
		declared[p.SubID] = p.PathDependencies
		rows = append(rows, pathdep.Product{SubID: p.SubID, Name: id.Platform + "/" + p.Name})
	}

	existing, err := s.catalog.ProductsBySource(ctx, source.UUID, id.Platform)
	if err != nil {
		return err
	}
	if owner, name, clash := productCollision(existing, id.JobKey, rows); clash {
		return s.failDuplicate(ctx, ev, owner, name)
	}
	products, err := s.catalog.ReplaceProducts(ctx, source.UUID, id.Platform, id.JobKey, rows)
	if err != nil {
		return err
	}

	for _, product := range products {
		res, err := s.resolver.ResolveDependencies(ctx, declared[product.SubID], id.Platform, product)
		if err != nil {
			return err
		}
		if err := s.catalog.SetProductDependencies(ctx, product.ID, res.Resolved); err != nil {
			return err
		}
		if err := s.resolver.SaveUnresolvedDependenciesToDatabase(ctx, res.Unresolved, product, id.Platform); err != nil {
			return err
		}
		s.countResolved(ctx, res.Resolved)
		out.Resolved += len(res.Resolved)
		out.Deferred += len(res.Unresolved)
	}

	retried, err := s.resolver.RetryDeferredDependencies(ctx, source)
	if err != nil {
		return err
	}
	s.countResolved(ctx, retried)
	return nil
}

// productCollision finds a product in rows that another job key of the same
// source and platform already registered.
func productCollision(existing []pathdep.Product, jobKey string, rows []pathdep.Product) (pathdep.Product, string, bool) {
	owners := make(map[string]pathdep.Product, len(existing))
	for _, p := range existing {
		if !strings.EqualFold(p.JobKey, jobKey) {
			owners[strings.ToLower(p.Name)] = p
		}
	}
	for _, row := range rows {
		if owner, ok := owners[strings.ToLower(row.Name)]; ok {
			return owner, row.Name, true
		}
	}
	return pathdep.Product{}, "", false
}

// failDuplicate leaves the products of ev unregistered and submits an
// auto-fail job for the same identity naming the job that owns the product.
func (s *Service) failDuplicate(ctx context.Context, ev ports.JobEvent, owner pathdep.Product, name string) error {
	id := ev.Identity
	reason := fmt.Sprintf("product %q is already produced by job key %s of %s", name, owner.JobKey, id.Source)
	_, err := s.controller.Submit(ctx, job.Details{
		Source:        id.Source,
		SourceUUID:    ev.SourceUUID,
		ScanFolder:    ev.ScanFolder,
		Platform:      id.Platform,
		JobKey:        id.JobKey,
		BuilderID:     ev.Builder,
		Critical:      ev.Critical,
		AutoFail:      true,
		FailureReason: reason,
	})
	if err != nil {
		return err
	}
	return job.NewError(job.ErrCodeDuplicateProduct, reason, nil)
}

func (s *Service) countResolved(ctx context.Context, rows []pathdep.ProductDependency) {
	for _, row := range rows {
		s.metrics.IncCounter(ctx, ports.MetricDependenciesResolved, map[string]string{"type": row.Type.String()})
	}
}

func (s *Service) folder(ctx context.Context, path string) (pathdep.ScanFolder, error) {
	s.mu.Lock()
	folder, ok := s.folders[folderKey(path)]
	s.mu.Unlock()
	if ok {
		return folder, nil
	}
	return s.RegisterScanFolder(ctx, path, filepath.Base(path))
}

func (s *Service) publish(ctx context.Context, event ports.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "event delivery failed", "event", event.Type, "error", err)
	}
}

func folderKey(path string) string {
	return strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
}

type productKey struct {
	source   string
	platform string
	product  string
}

// flagDuplicateProducts returns a copy of batch where every job that expects
// a product already expected by another job of the same source and platform
// is auto-failed, whichever builder or job key the jobs use.
func flagDuplicateProducts(batch []job.Details) []job.Details {
	out := append([]job.Details(nil), batch...)
	owners := make(map[productKey]int)
	for i, d := range out {
		if d.AutoFail {
			continue
		}
		for _, name := range d.ExpectedProducts {
			key := productKey{
				source:   d.Source,
				platform: strings.ToLower(d.Platform),
				product:  strings.ToLower(pathdep.NormalizePath(name)),
			}
			first, seen := owners[key]
			if !seen {
				owners[key] = i
				continue
			}
			if first == i {
				continue
			}
			reason := fmt.Sprintf("product %q is expected from both %s and %s", name, out[first].Identity(), d.Identity())
			markDuplicate(&out[first], reason)
			markDuplicate(&out[i], reason)
		}
	}
	return out
}

func markDuplicate(d *job.Details, reason string) {
	if d.AutoFail {
		return
	}
	d.AutoFail = true
	d.FailureReason = reason
}
