package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/session"
	"tuitionmatch/pkg/sentinel"
)

// reconcile resumes a submission whose enquiry was persisted but whose
// enquirer confirmation failed. The stored aggregate is reused as-is: same
// reference number, same creation timestamp, same magic-link tokens. Only the
// destination address may differ, since a 4xx usually means the enquirer
// mistyped their email and has now corrected it.
func (s *Service) reconcile(ctx context.Context, sessionID string, sub *models.EnquirySubmission) SubmissionOutcome {
	ctx, span := s.tracer.Start(ctx, "enquiry.Reconcile")
	defer span.End()

	reference, err := s.sessions.Get(ctx, sessionID, session.KeySupportReferenceNumber)
	if err != nil {
		s.logger.ErrorContext(ctx, "session records a failed confirmation but no support reference", "error", err)
		return failure(OutcomePersistenceFailure)
	}

	enquiry, err := s.store.FindBySupportReference(ctx, reference)
	if errors.Is(err, sentinel.ErrNotFound) {
		// The marker outlived the enquiry. Never mint a second aggregate
		// here; surface the inconsistency instead.
		s.logger.ErrorContext(ctx, "no enquiry found for support reference recorded in session",
			"reference", reference)
		return failure(OutcomePersistenceFailure)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load enquiry for reconciliation",
			"reference", reference, "error", err)
		return failure(OutcomePersistenceFailure)
	}

	enquirer, partners, err := s.recipientsFromStoredLinks(enquiry, sub)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to rebuild recipients from stored magic links",
			"reference", reference, "error", err)
		return failure(OutcomePersistenceFailure)
	}

	s.logger.InfoContext(ctx, "reconciling prior enquiry submission",
		"reference", reference, "partners", len(partners))
	return s.notify(ctx, sessionID, enquiry, enquirer, partners)
}

// recipientsFromStoredLinks reconstructs the notification recipients from the
// aggregate's persisted magic links, so re-sent emails carry tokens that
// already exist rather than freshly minted orphans. The enquirer recipient is
// addressed to the submission's (possibly corrected) email.
func (s *Service) recipientsFromStoredLinks(enquiry *models.Enquiry, sub *models.EnquirySubmission) (models.Recipient, []models.Recipient, error) {
	partnersByID := make(map[int]models.TuitionPartnerEnquiry, len(enquiry.TuitionPartnerEnquiries))
	for _, tpe := range enquiry.TuitionPartnerEnquiries {
		partnersByID[tpe.TuitionPartnerID] = tpe
	}

	var enquirer *models.Recipient
	partners := make([]models.Recipient, 0, len(enquiry.TuitionPartnerEnquiries))

	for _, link := range enquiry.MagicLinks {
		payload, err := s.parseTokenPayload(link.Token)
		if err != nil {
			return models.Recipient{}, nil, fmt.Errorf("token for %s link: %w", link.Type, err)
		}

		switch link.Type {
		case models.MagicLinkTypeEnquirerViewAllResponses:
			enquirer = &models.Recipient{
				Email: sub.Email,
				Token: link.Token,
				Personalisation: map[string]string{
					models.PersonalisationNumberOfTPsContacted: strconv.Itoa(len(enquiry.TuitionPartnerEnquiries)),
					models.PersonalisationViewAllResponsesLink: viewAllResponsesLink(sub.BaseServiceURL, link.Token),
				},
			}
		case models.MagicLinkTypeEnquiryRequest:
			tpe, ok := partnersByID[payload.TuitionPartnerID]
			if !ok {
				return models.Recipient{}, nil, fmt.Errorf("magic link names tuition partner %d not on the enquiry", payload.TuitionPartnerID)
			}
			partners = append(partners, models.Recipient{
				Email: tpe.TuitionPartnerEmail,
				Token: link.Token,
				Personalisation: map[string]string{
					models.PersonalisationTPName:            tpe.TuitionPartnerName,
					models.PersonalisationResponseFormLink:  responseFormLink(sub.BaseServiceURL, link.Token),
					models.PersonalisationLocalAreaDistrict: enquiry.LocalAuthorityDistrict,
				},
				AmalgamateKeys: []string{
					models.PersonalisationTPName,
					models.PersonalisationResponseFormLink,
				},
			})
		}
	}

	if enquirer == nil {
		return models.Recipient{}, nil, fmt.Errorf("enquiry has no %s magic link", models.MagicLinkTypeEnquirerViewAllResponses)
	}
	return *enquirer, partners, nil
}

// tokenPayload is the decrypted content of a magic-link token.
type tokenPayload struct {
	Type             models.MagicLinkType
	TuitionPartnerID int
	Email            string
}

// parseTokenPayload decrypts a token and splits its key=value fields. The
// trailing random nonce segment is ignored.
func (s *Service) parseTokenPayload(token string) (tokenPayload, error) {
	plaintext, err := s.cipher.Decrypt(token)
	if err != nil {
		return tokenPayload{}, fmt.Errorf("decrypt: %w", err)
	}

	var payload tokenPayload
	for _, segment := range strings.Split(plaintext, "&") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		switch key {
		case "Type":
			payload.Type = models.MagicLinkType(value)
		case "TuitionPartnerId":
			id, err := strconv.Atoi(value)
			if err != nil {
				return tokenPayload{}, fmt.Errorf("malformed TuitionPartnerId %q", value)
			}
			payload.TuitionPartnerID = id
		case "Email":
			payload.Email = value
		}
	}
	if payload.Type == "" {
		return tokenPayload{}, errors.New("token payload carries no Type")
	}
	return payload, nil
}
