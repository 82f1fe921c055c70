// Package core hosts the fit ingest service: it reads fit documents from blob
// storage, extracts them, persists the records and builds simulation plans.
package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"cellfit/internal/blob"
	"cellfit/internal/fitstore"
	"cellfit/pkg/allenfit"
	"cellfit/pkg/cellmodel"
)

// Operation names reported to metrics, traces and the audit log.
const (
	OpIngest  = "ingest"
	OpExtract = "extract"
	OpGet     = "get_fit"
	OpList    = "list_fits"
	OpPlan    = "plan"
)

// Service coordinates blob storage, extraction and the fit store.
type Service struct {
	blobs blob.Store
	store fitstore.Store

	now     func() time.Time
	newID   func() string
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder

	maxDocumentBytes int64
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the recorder observing every operation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer starting a span per operation.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink for ingests.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithMaxDocumentBytes bounds how much of a blob Ingest reads. Larger
// documents are rejected as malformed input.
func WithMaxDocumentBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDocumentBytes = n
		}
	}
}

// NewService wires a service over the blob source and the record store.
func NewService(blobs blob.Store, store fitstore.Store, opts ...Option) *Service {
	s := &Service{
		blobs:   blobs,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},

		maxDocumentBytes: allenfit.MaxDocumentBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blobs returns the blob store fit documents are read from.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Ingest extracts the fit document stored under key and saves it. Documents
// are identified by content digest: ingesting identical bytes twice returns
// the record created the first time.
func (s *Service) Ingest(ctx context.Context, key string) (fitstore.Record, error) {
	var rec fitstore.Record
	err := s.run(ctx, OpIngest, func(ctx context.Context) error {
		var err error
		rec, err = s.ingest(ctx, key)
		return err
	})
	entry := AuditEntry{Operation: OpIngest, Status: AuditStatusSuccess, EntityID: rec.ID, Source: key, OccurredAt: s.now()}
	if err != nil {
		entry.Status, entry.Error = AuditStatusError, err.Error()
	}
	s.audit.Record(ctx, entry)
	return rec, err
}

func (s *Service) ingest(ctx context.Context, key string) (fitstore.Record, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return fitstore.Record{}, fmt.Errorf("read fit document: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, s.maxDocumentBytes+1))
	_ = rc.Close()
	if err != nil {
		return fitstore.Record{}, fmt.Errorf("read fit document %s: %w", key, err)
	}
	if int64(len(data)) > s.maxDocumentBytes {
		return fitstore.Record{}, &allenfit.MalformedInputError{Reason: fmt.Sprintf("document %s exceeds %d bytes", key, s.maxDocumentBytes)}
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if existing, err := s.store.FindByDigest(ctx, digest); err == nil {
		s.logger.Info("fit already ingested", "key", key, "id", existing.ID, "digest", digest)
		return existing, nil
	} else if !errors.Is(err, fitstore.ErrNotFound) {
		return fitstore.Record{}, err
	}

	fit, err := allenfit.Load(bytes.NewReader(data))
	if err != nil {
		return fitstore.Record{}, fmt.Errorf("extract %s: %w", key, err)
	}
	rec := fitstore.Record{ID: s.newID(), Source: key, Digest: digest, Fit: fit, CreatedAt: s.now()}
	if err := s.store.Save(ctx, rec); err != nil {
		if errors.Is(err, fitstore.ErrExists) {
			// a concurrent ingest of the same bytes won the race
			if existing, findErr := s.store.FindByDigest(ctx, digest); findErr == nil {
				return existing, nil
			}
		}
		return fitstore.Record{}, err
	}
	s.logger.Info("fit ingested", "key", key, "id", rec.ID, "regions", len(fit.Regions), "mechanisms", len(fit.Mechanisms))
	return rec, nil
}

// Extract decodes and extracts a fit document without storing anything.
func (s *Service) Extract(ctx context.Context, r io.Reader) (allenfit.Fit, error) {
	var fit allenfit.Fit
	err := s.run(ctx, OpExtract, func(context.Context) error {
		var err error
		fit, err = allenfit.Load(r)
		return err
	})
	return fit, err
}

// Get returns the record stored under id.
func (s *Service) Get(ctx context.Context, id string) (fitstore.Record, error) {
	var rec fitstore.Record
	err := s.run(ctx, OpGet, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Get(ctx, id)
		return err
	})
	return rec, err
}

// List returns every stored record, oldest first.
func (s *Service) List(ctx context.Context) ([]fitstore.Record, error) {
	var recs []fitstore.Record
	err := s.run(ctx, OpList, func(ctx context.Context) error {
		var err error
		recs, err = s.store.List(ctx)
		return err
	})
	return recs, err
}

// Plan builds the simulation plan for the record stored under id.
func (s *Service) Plan(ctx context.Context, id string, settings cellmodel.Settings) (cellmodel.Plan, error) {
	var plan cellmodel.Plan
	err := s.run(ctx, OpPlan, func(ctx context.Context) error {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		plan, err = cellmodel.Build(rec.Fit, settings)
		return err
	})
	return plan, err
}

// run wraps fn in a span, a metrics observation and failure logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("operation failed", "operation", op, "error", err)
	}
	return err
}
