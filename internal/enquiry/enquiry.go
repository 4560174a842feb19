package enquiry

import (
	"log/slog"

	"tuitionmatch/internal/enquiry/handler"
	"tuitionmatch/internal/enquiry/service"
	"tuitionmatch/internal/session"
)

// Service orchestrates enquiry submission and magic-link validation.
type Service = service.Service

// Handler wires HTTP endpoints to the enquiry service.
type Handler = handler.Handler

// NewService constructs the enquiry service with required dependencies.
func NewService(store service.EnquiryStore, sessions session.Store, sender service.EmailSender, cipher service.TokenCipher, refs service.ReferenceGenerator, opts ...service.Option) *Service {
	return service.New(store, sessions, sender, cipher, refs, opts...)
}

// NewHandler constructs the HTTP handler for the enquiry routes.
func NewHandler(s *Service, baseServiceURL string, logger *slog.Logger) *Handler {
	return handler.New(s, baseServiceURL, logger)
}
