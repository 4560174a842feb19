package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"tuitionmatch/internal/enquiry/metrics"
	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/events"
	"tuitionmatch/internal/notify"
	"tuitionmatch/internal/session"
)

// EnquiryStore persists enquiry aggregates. Create returns
// sentinel.ErrReferenceInUse when the support reference unique constraint
// fired; FindBySupportReference and FindMagicLinkByToken return
// sentinel.ErrNotFound when absent.
type EnquiryStore interface {
	Create(ctx context.Context, enquiry *models.Enquiry) error
	FindBySupportReference(ctx context.Context, reference string) (*models.Enquiry, error)
	FindMagicLinkByToken(ctx context.Context, token string) (*models.MagicLink, error)
}

// EmailSender dispatches one templated email to a batch of recipients and
// classifies the provider outcome.
type EmailSender interface {
	Send(ctx context.Context, template notify.TemplateID, reference string, recipients []models.Recipient) (notify.Result, error)
}

// TokenCipher mints and seals magic-link tokens.
type TokenCipher interface {
	GenerateRandomToken() (string, error)
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// ReferenceGenerator produces candidate support reference numbers. Collisions
// are expected; the orchestrator retries against the store's constraint.
type ReferenceGenerator interface {
	Generate() string
}

// EventPublisher emits enquiry lifecycle events. Optional; failures are
// logged and never fail a submission.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service orchestrates enquiry submission: validation, magic-link minting,
// persistence with reference collision retry, the two-phase notification
// pipeline and session-backed reconciliation of partial failures.
//
// Within one user session submissions are assumed sequential; concurrent
// double-submission from two tabs is a known gap and is not guarded here.
type Service struct {
	store    EnquiryStore
	sessions session.Store
	sender   EmailSender
	cipher   TokenCipher
	refs     ReferenceGenerator

	logger  *slog.Logger
	metrics *metrics.Metrics
	events  EventPublisher
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEventPublisher attaches the lifecycle event stream.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// New constructs the submission orchestrator.
func New(store EnquiryStore, sessions session.Store, sender EmailSender, cipher TokenCipher, refs ReferenceGenerator, opts ...Option) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		sender:   sender,
		cipher:   cipher,
		refs:     refs,
		logger:   slog.Default(),
		tracer:   otel.Tracer("tuitionmatch/enquiry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) recordSubmission(outcome OutcomeKind) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(string(outcome))
	}
}

func (s *Service) recordEnquirerEmail(status notify.StatusClass) {
	if s.metrics != nil {
		s.metrics.RecordEnquirerEmail(string(status))
	}
}

func (s *Service) publishEvent(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish enquiry event",
			"event", event.Name, "reference", event.SupportReference, "error", err)
	}
}
