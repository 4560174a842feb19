package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/events"
	"tuitionmatch/internal/notify"
	"tuitionmatch/internal/session"
	"tuitionmatch/pkg/requestcontext"
	"tuitionmatch/pkg/sentinel"
)

// maxReferenceAttempts caps reference regeneration on unique-constraint
// conflicts. The collision probability makes more than a couple of retries
// vanishingly unlikely; the cap is a fuse, not a policy.
const maxReferenceAttempts = 20

// dateTimeFormat renders enquiry creation timestamps in emails.
const dateTimeFormat = "2 January 2006 at 15:04"

// Submit runs the enquiry submission workflow:
//
//	validate -> reconcile prior attempt -> persist (collision retry) ->
//	notify enquirer -> notify partners
//
// Persistence always precedes any email; the enquirer confirmation always
// precedes the partner fan-out; partners are only notified once the
// confirmation is Delivered.
func (s *Service) Submit(ctx context.Context, sub *models.EnquirySubmission) SubmissionOutcome {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "enquiry.Submit")
	defer span.End()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveSubmit(start)
		}
	}()

	outcome := s.submit(ctx, sub)
	s.recordSubmission(outcome.Kind)
	return outcome
}

func (s *Service) submit(ctx context.Context, sub *models.EnquirySubmission) SubmissionOutcome {
	if !s.validate(ctx, sub) {
		return failure(OutcomeValidationFailure)
	}

	sessionID := requestcontext.SessionID(ctx)
	if prior, resume := s.priorAttemptStatus(ctx, sessionID); resume {
		// A prior attempt already persisted the enquiry and its tokens;
		// resume it instead of minting a duplicate.
		s.logger.InfoContext(ctx, "resuming prior enquiry submission", "prior_status", prior)
		return s.reconcile(ctx, sessionID, sub)
	}

	now := requestcontext.Now(ctx)

	tpRecipients, tpLinks, err := s.buildPartnerRecipients(sub, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build partner magic-link tokens", "error", err)
		return failure(OutcomePersistenceFailure)
	}
	enquirerRecipient, enquirerLink, err := s.buildEnquirerRecipient(sub, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build enquirer magic-link token", "error", err)
		return failure(OutcomePersistenceFailure)
	}

	enquiry, outcome := s.persistWithRetry(ctx, sub, append(tpLinks, enquirerLink), now)
	if enquiry == nil {
		return outcome
	}

	// Record the reference before any email so a retry after a provider
	// failure can find the persisted enquiry.
	if sessionID != "" {
		if err := s.sessions.Set(ctx, sessionID, session.KeySupportReferenceNumber, enquiry.SupportReferenceNumber); err != nil {
			s.logger.ErrorContext(ctx, "failed to store support reference in session",
				"reference", enquiry.SupportReferenceNumber, "error", err)
		}
	}

	s.publishEvent(ctx, events.Event{
		Name:              events.EventEnquirySubmitted,
		SupportReference:  enquiry.SupportReferenceNumber,
		PartnersContacted: len(enquiry.TuitionPartnerEnquiries),
	})

	return s.notify(ctx, sessionID, enquiry, enquirerRecipient, tpRecipients)
}

// validate checks the submission preconditions. Failing any check
// short-circuits with no side effects.
func (s *Service) validate(ctx context.Context, sub *models.EnquirySubmission) bool {
	switch {
	case sub == nil || len(sub.TuitionPartners) == 0:
		s.logger.ErrorContext(ctx, "enquiry submission names no tuition partners")
	case len(models.ParseKeyStageSubjects(sub.Subjects)) == 0:
		s.logger.ErrorContext(ctx, "enquiry submission contains no key stage and subjects")
	case sub.Postcode == "":
		s.logger.ErrorContext(ctx, "enquiry submission contains no postcode")
	case sub.LocalAuthorityDistrict == "":
		s.logger.ErrorContext(ctx, "enquiry submission contains no local authority district name")
	case !govalidator.IsEmail(sub.Email):
		s.logger.ErrorContext(ctx, "enquiry submission has an invalid enquirer email")
	default:
		return true
	}
	return false
}

// priorAttemptStatus reports whether the session records a failed enquirer
// confirmation from an earlier attempt, meaning an enquiry already exists.
func (s *Service) priorAttemptStatus(ctx context.Context, sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	status, err := s.sessions.Get(ctx, sessionID, session.KeyEnquirerEmailSentStatus)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to read enquirer email status from session", "error", err)
		}
		return "", false
	}
	return status, status == session.Status4xxError || status == session.Status5xxError
}

// persistWithRetry saves the aggregate, regenerating the support reference
// number on unique-constraint conflicts. Returns (nil, outcome) on abort.
func (s *Service) persistWithRetry(ctx context.Context, sub *models.EnquirySubmission, links []models.MagicLink, now time.Time) (*models.Enquiry, SubmissionOutcome) {
	ctx, span := s.tracer.Start(ctx, "enquiry.Persist")
	defer span.End()

	enquiry, err := models.NewEnquiry(uuid.New(), sub, s.refs.Generate(), now)
	if err != nil {
		// Preconditions were checked already; this is defensive.
		s.logger.ErrorContext(ctx, "failed to construct enquiry aggregate", "error", err)
		return nil, failure(OutcomeValidationFailure)
	}
	enquiry.AttachMagicLinks(links)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			s.logger.WarnContext(ctx, "enquiry persistence cancelled", "error", err)
			return nil, failure(OutcomePersistenceFailure)
		}

		err := s.store.Create(ctx, enquiry)
		if err == nil {
			s.logger.InfoContext(ctx, "enquiry created with magic links",
				"enquiry_id", enquiry.ID,
				"reference", enquiry.SupportReferenceNumber,
				"partners", len(enquiry.TuitionPartnerEnquiries))
			return enquiry, SubmissionOutcome{}
		}
		if !errors.Is(err, sentinel.ErrReferenceInUse) {
			s.logger.ErrorContext(ctx, "failed to save enquiry",
				"reference", enquiry.SupportReferenceNumber, "error", err)
			return nil, failure(OutcomePersistenceFailure)
		}
		if attempt >= maxReferenceAttempts {
			s.logger.ErrorContext(ctx, "exhausted support reference regeneration attempts",
				"attempts", attempt)
			return nil, failure(OutcomePersistenceFailure)
		}

		if s.metrics != nil {
			s.metrics.ReferenceCollisions.Inc()
		}
		colliding := enquiry.SupportReferenceNumber
		enquiry.SupportReferenceNumber = s.refs.Generate()
		s.logger.WarnContext(ctx, "support reference collision, regenerating",
			"colliding", colliding, "regenerated", enquiry.SupportReferenceNumber)
	}
}

// notify drives the two-phase notification pipeline against a persisted
// enquiry. Partner fan-out happens only after the enquirer confirmation is
// Delivered; fan-out failures never invalidate the submission.
func (s *Service) notify(ctx context.Context, sessionID string, enquiry *models.Enquiry, enquirer models.Recipient, partners []models.Recipient) SubmissionOutcome {
	ctx, span := s.tracer.Start(ctx, "enquiry.Notify")
	defer span.End()

	stampPersonalisation(enquirer, enquiry)
	for _, r := range partners {
		stampPersonalisation(r, enquiry)
	}

	result, err := s.sender.Send(ctx, notify.TemplateEnquiryConfirmationToEnquirer, enquiry.SupportReferenceNumber, []models.Recipient{enquirer})
	status := statusMarker(result, err)
	s.recordEnquirerEmail(notify.StatusClass(status))
	s.setEmailStatus(ctx, sessionID, status)

	if status != session.StatusDelivered {
		s.logger.ErrorContext(ctx, "enquirer confirmation email failed",
			"reference", enquiry.SupportReferenceNumber, "status", status, "error", err)
		s.publishEvent(ctx, events.Event{
			Name:             events.EventConfirmationFailed,
			SupportReference: enquiry.SupportReferenceNumber,
			EmailStatus:      status,
		})
		if status == session.Status4xxError {
			return failure(OutcomeEmailClientError)
		}
		return failure(OutcomeEmailServerError)
	}

	s.publishEvent(ctx, events.Event{
		Name:             events.EventConfirmationDelivered,
		SupportReference: enquiry.SupportReferenceNumber,
		EmailStatus:      status,
	})

	s.notifyPartners(ctx, enquiry, partners)
	s.clearProgress(ctx, sessionID)
	return success(enquiry.SupportReferenceNumber)
}

// notifyPartners fans out the enquiry to the selected partners as one batched
// send. Best-effort: failures are logged and counted, never surfaced.
func (s *Service) notifyPartners(ctx context.Context, enquiry *models.Enquiry, partners []models.Recipient) {
	result, err := s.sender.Send(ctx, notify.TemplateEnquiryToTP, enquiry.SupportReferenceNumber, partners)
	if err == nil && result.Delivered() {
		return
	}
	if s.metrics != nil {
		s.metrics.PartnerEmailFailures.Inc()
	}
	s.logger.ErrorContext(ctx, "failed to send enquiry emails to tuition partners",
		"reference", enquiry.SupportReferenceNumber,
		"status", result.StatusCode,
		"error", err)
}

func (s *Service) setEmailStatus(ctx context.Context, sessionID, status string) {
	if sessionID == "" {
		return
	}
	if err := s.sessions.Set(ctx, sessionID, session.KeyEnquirerEmailSentStatus, status); err != nil {
		s.logger.ErrorContext(ctx, "failed to record enquirer email status in session",
			"status", status, "error", err)
	}
}

// clearProgress removes the workflow markers after full completion.
func (s *Service) clearProgress(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	for _, key := range []string{session.KeyEnquirerEmailSentStatus, session.KeySupportReferenceNumber} {
		if err := s.sessions.Delete(ctx, sessionID, key); err != nil {
			s.logger.WarnContext(ctx, "failed to clear session progress marker", "key", key, "error", err)
		}
	}
}

func (s *Service) buildPartnerRecipients(sub *models.EnquirySubmission, now time.Time) ([]models.Recipient, []models.MagicLink, error) {
	recipients := make([]models.Recipient, 0, len(sub.TuitionPartners))
	links := make([]models.MagicLink, 0, len(sub.TuitionPartners))
	for _, tp := range sub.TuitionPartners {
		nonce, err := s.cipher.GenerateRandomToken()
		if err != nil {
			return nil, nil, err
		}
		token, err := s.cipher.Encrypt(partnerTokenPayload(tp.ID, sub.Email, nonce))
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt partner token: %w", err)
		}
		recipients = append(recipients, models.Recipient{
			Email: tp.Email,
			Token: token,
			Personalisation: map[string]string{
				models.PersonalisationTPName:            tp.Name,
				models.PersonalisationResponseFormLink:  responseFormLink(sub.BaseServiceURL, token),
				models.PersonalisationLocalAreaDistrict: sub.LocalAuthorityDistrict,
			},
			AmalgamateKeys: []string{
				models.PersonalisationTPName,
				models.PersonalisationResponseFormLink,
			},
		})
		links = append(links, models.NewMagicLink(token, models.MagicLinkTypeEnquiryRequest, now))
	}
	return recipients, links, nil
}

func (s *Service) buildEnquirerRecipient(sub *models.EnquirySubmission, now time.Time) (models.Recipient, models.MagicLink, error) {
	nonce, err := s.cipher.GenerateRandomToken()
	if err != nil {
		return models.Recipient{}, models.MagicLink{}, err
	}
	token, err := s.cipher.Encrypt(enquirerTokenPayload(sub.Email, nonce))
	if err != nil {
		return models.Recipient{}, models.MagicLink{}, fmt.Errorf("encrypt enquirer token: %w", err)
	}
	recipient := models.Recipient{
		Email: sub.Email,
		Token: token,
		Personalisation: map[string]string{
			models.PersonalisationNumberOfTPsContacted: strconv.Itoa(len(sub.TuitionPartners)),
			models.PersonalisationViewAllResponsesLink: viewAllResponsesLink(sub.BaseServiceURL, token),
		},
	}
	return recipient, models.NewMagicLink(token, models.MagicLinkTypeEnquirerViewAllResponses, now), nil
}

// stampPersonalisation adds the values only known after persistence: the
// final reference number and the enquiry's true creation timestamp.
func stampPersonalisation(r models.Recipient, enquiry *models.Enquiry) {
	r.Personalisation[models.PersonalisationReferenceNumber] = enquiry.SupportReferenceNumber
	r.Personalisation[models.PersonalisationDateTime] = enquiry.CreatedAt.Format(dateTimeFormat)
}

func statusMarker(result notify.Result, err error) string {
	if err != nil {
		// No classifiable provider answer; treat like a transient failure.
		return session.Status5xxError
	}
	switch result.Class {
	case notify.StatusDelivered:
		return session.StatusDelivered
	case notify.StatusClientError:
		return session.Status4xxError
	default:
		return session.Status5xxError
	}
}

func partnerTokenPayload(tuitionPartnerID int, enquirerEmail, nonce string) string {
	return fmt.Sprintf("Type=%s&TuitionPartnerId=%d&Email=%s&%s",
		models.MagicLinkTypeEnquiryRequest, tuitionPartnerID, enquirerEmail, nonce)
}

func enquirerTokenPayload(enquirerEmail, nonce string) string {
	return fmt.Sprintf("Type=%s&Email=%s&%s",
		models.MagicLinkTypeEnquirerViewAllResponses, enquirerEmail, nonce)
}

func responseFormLink(baseURL, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/enquiry/respond/response?token=" + token
}

func viewAllResponsesLink(baseURL, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/enquiry/respond/all-enquirer-responses?token=" + token
}
