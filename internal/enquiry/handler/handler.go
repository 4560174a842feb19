package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/enquiry/service"
	"tuitionmatch/pkg/domainerr"
	"tuitionmatch/pkg/sentinel"
)

// Service defines the enquiry operations the transport exposes.
type Service interface {
	Submit(ctx context.Context, sub *models.EnquirySubmission) service.SubmissionOutcome
	ValidateMagicLinkToken(ctx context.Context, token string) (*models.MagicLink, error)
}

// Handler exposes the enquiry workflow over HTTP.
type Handler struct {
	logger  *slog.Logger
	service Service

	// baseServiceURL is the externally visible origin used to build the
	// magic-link URLs embedded in emails.
	baseServiceURL string
}

// New creates the enquiry Handler.
func New(svc Service, baseServiceURL string, logger *slog.Logger) *Handler {
	return &Handler{
		logger:         logger,
		service:        svc,
		baseServiceURL: baseServiceURL,
	}
}

// Register mounts the enquiry routes on the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(SessionCookie)
	router.Post("/enquiries", h.handleSubmit)
	router.Get("/magic-links/validate", h.handleValidateMagicLink)

	r.Mount("/", router)
}

// handleSubmit accepts a JSON enquiry submission and runs the workflow.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub models.EnquirySubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.logger.WarnContext(ctx, "invalid enquiry submission body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if sub.BaseServiceURL == "" {
		sub.BaseServiceURL = h.baseServiceURL
	}

	outcome := h.service.Submit(ctx, &sub)
	switch outcome.Kind {
	case service.OutcomeSuccess:
		writeJSON(w, http.StatusCreated, submitResponse{
			SupportReferenceNumber: outcome.SupportReferenceNumber,
		})
	case service.OutcomeValidationFailure:
		writeError(w, http.StatusBadRequest, "validation_failed", "enquiry submission is missing required answers")
	case service.OutcomeEmailClientError:
		// The enquiry is saved; the confirmation address was rejected.
		// The client should correct the email and resubmit.
		writeError(w, http.StatusUnprocessableEntity, "confirmation_rejected", "confirmation email address was rejected, correct it and resubmit")
	case service.OutcomeEmailServerError:
		writeError(w, http.StatusBadGateway, "confirmation_failed", "confirmation email could not be sent, resubmit to retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "failed to process enquiry")
	}
}

// handleValidateMagicLink resolves a magic-link token to its link metadata.
func (h *Handler) handleValidateMagicLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token query parameter is required")
		return
	}

	link, err := h.service.ValidateMagicLinkToken(ctx, token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, magicLinkResponse{
			Type:      string(link.Type),
			ExpiresAt: link.ExpiresAt,
		})
	case errors.Is(err, sentinel.ErrExpired) || domainerr.HasCode(err, domainerr.CodeConflict):
		writeError(w, http.StatusGone, "expired", "magic link has expired")
	case domainerr.HasCode(err, domainerr.CodeNotFound):
		writeError(w, http.StatusNotFound, "not_found", "unrecognised magic link token")
	default:
		h.logger.ErrorContext(ctx, "failed to validate magic link token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to validate magic link")
	}
}
