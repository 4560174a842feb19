package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/notify"
	"tuitionmatch/internal/session"
	"tuitionmatch/pkg/sentinel"
)

// storedEnquiry builds a persisted aggregate as a prior attempt would have
// left it: one EnquiryRequest link per partner plus the enquirer's view-all
// link, created an hour before testNow.
func (s *SubmitSuite) storedEnquiry() *models.Enquiry {
	id := uuid.New()
	createdAt := testNow.Add(-time.Hour)
	enquiry := &models.Enquiry{
		ID:                     id,
		Email:                  "parent@example.com",
		Postcode:               "SW1A 1AA",
		LocalAuthorityDistrict: "Westminster",
		SupportReferenceNumber: "QZ48301",
		CreatedAt:              createdAt,
		TuitionPartnerEnquiries: []models.TuitionPartnerEnquiry{
			{TuitionPartnerID: 1, TuitionPartnerName: "Alpha Tutors", TuitionPartnerEmail: "alpha@example.com"},
			{TuitionPartnerID: 2, TuitionPartnerName: "Bravo Learning", TuitionPartnerEmail: "bravo@example.com"},
		},
		KeyStageSubjects: []models.KeyStageSubject{{KeyStageID: 1, SubjectID: 1}},
	}
	enquiry.AttachMagicLinks([]models.MagicLink{
		models.NewMagicLink("tok-tp-1", models.MagicLinkTypeEnquiryRequest, createdAt),
		models.NewMagicLink("tok-tp-2", models.MagicLinkTypeEnquiryRequest, createdAt),
		models.NewMagicLink("tok-enq", models.MagicLinkTypeEnquirerViewAllResponses, createdAt),
	})
	return enquiry
}

func (s *SubmitSuite) expectStoredTokenDecryption() {
	s.mockCipher.EXPECT().Decrypt("tok-tp-1").
		Return("Type=EnquiryRequest&TuitionPartnerId=1&Email=parent@example.com&nonce", nil).AnyTimes()
	s.mockCipher.EXPECT().Decrypt("tok-tp-2").
		Return("Type=EnquiryRequest&TuitionPartnerId=2&Email=parent@example.com&nonce", nil).AnyTimes()
	s.mockCipher.EXPECT().Decrypt("tok-enq").
		Return("Type=EnquirerViewAllResponses&Email=parent@example.com&nonce", nil).AnyTimes()
}

func (s *SubmitSuite) markPriorAttempt(status string) {
	ctx := context.Background()
	s.Require().NoError(s.sessions.Set(ctx, testSessionID, session.KeyEnquirerEmailSentStatus, status))
	s.Require().NoError(s.sessions.Set(ctx, testSessionID, session.KeySupportReferenceNumber, "QZ48301"))
}

func (s *SubmitSuite) TestSubmit_ReconcilesAfterClientError() {
	s.markPriorAttempt(session.Status4xxError)
	s.expectEvents()
	s.expectStoredTokenDecryption()
	s.mockStore.EXPECT().FindBySupportReference(gomock.Any(), "QZ48301").Return(s.storedEnquiry(), nil)

	// The enquirer corrected their address; everything else is reused.
	sub := validSubmission()
	sub.Email = "corrected@example.com"

	var enquirerRecipients, partnerRecipients []models.Recipient
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ notify.TemplateID, _ string, recipients []models.Recipient) (notify.Result, error) {
			enquirerRecipients = recipients
			return delivered(), nil
		})
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryToTP, "QZ48301", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ notify.TemplateID, _ string, recipients []models.Recipient) (notify.Result, error) {
			partnerRecipients = recipients
			return delivered(), nil
		})

	outcome := s.service.Submit(s.ctx(), sub)

	s.Equal(OutcomeSuccess, outcome.Kind)
	s.Equal("QZ48301", outcome.SupportReferenceNumber)

	// The confirmation went to the corrected address but reuses the stored
	// token, reference and original creation timestamp.
	s.Require().Len(enquirerRecipients, 1)
	enquirer := enquirerRecipients[0]
	s.Equal("corrected@example.com", enquirer.Email)
	s.Equal("tok-enq", enquirer.Token)
	s.Equal("QZ48301", enquirer.Personalisation[models.PersonalisationReferenceNumber])
	s.Equal("14 March 2026 at 08:30", enquirer.Personalisation[models.PersonalisationDateTime])
	s.Equal(testBaseURL+"/enquiry/respond/all-enquirer-responses?token=tok-enq",
		enquirer.Personalisation[models.PersonalisationViewAllResponsesLink])

	s.Require().Len(partnerRecipients, 2)
	s.Equal("tok-tp-1", partnerRecipients[0].Token)
	s.Equal("alpha@example.com", partnerRecipients[0].Email)
	s.Equal("Alpha Tutors", partnerRecipients[0].Personalisation[models.PersonalisationTPName])
	s.Equal(testBaseURL+"/enquiry/respond/response?token=tok-tp-1",
		partnerRecipients[0].Personalisation[models.PersonalisationResponseFormLink])
	s.Equal("tok-tp-2", partnerRecipients[1].Token)

	_, err := s.sessions.Get(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.sessions.Get(context.Background(), testSessionID, session.KeySupportReferenceNumber)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SubmitSuite) TestSubmit_ReconcileAfterServerErrorFailsAgain() {
	s.markPriorAttempt(session.Status5xxError)
	s.expectEvents()
	s.expectStoredTokenDecryption()
	s.mockStore.EXPECT().FindBySupportReference(gomock.Any(), "QZ48301").Return(s.storedEnquiry(), nil)
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).
		Return(notify.Result{Class: notify.StatusServerError, StatusCode: 502}, nil)

	outcome := s.service.Submit(s.ctx(), validSubmission())
	s.Equal(OutcomeEmailServerError, outcome.Kind)

	// The markers survive so the next resubmission reconciles again.
	status, err := s.sessions.Get(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus)
	s.NoError(err)
	s.Equal(session.Status5xxError, status)
	reference, err := s.sessions.Get(context.Background(), testSessionID, session.KeySupportReferenceNumber)
	s.NoError(err)
	s.Equal("QZ48301", reference)
}

func (s *SubmitSuite) TestSubmit_ReconcileWithMissingReferenceMarker() {
	s.Require().NoError(s.sessions.Set(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus, session.Status4xxError))

	// No reference marker and no store lookup; never a second aggregate.
	outcome := s.service.Submit(s.ctx(), validSubmission())
	s.Equal(OutcomePersistenceFailure, outcome.Kind)
}

func (s *SubmitSuite) TestSubmit_ReconcileWithVanishedEnquiry() {
	s.markPriorAttempt(session.Status4xxError)
	s.mockStore.EXPECT().FindBySupportReference(gomock.Any(), "QZ48301").Return(nil, sentinel.ErrNotFound)

	outcome := s.service.Submit(s.ctx(), validSubmission())
	s.Equal(OutcomePersistenceFailure, outcome.Kind)
}

func (s *SubmitSuite) TestSubmit_DeliveredMarkerDoesNotReconcile() {
	// Delivered means the workflow finished; a fresh submission is a new
	// enquiry, not a resume.
	s.Require().NoError(s.sessions.Set(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus, session.StatusDelivered))
	s.expectTokenMinting()
	s.expectEvents()
	s.mockRefs.EXPECT().Generate().Return("NW77777")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(delivered(), nil).Times(2)

	outcome := s.service.Submit(s.ctx(), validSubmission())
	s.Equal(OutcomeSuccess, outcome.Kind)
	s.Equal("NW77777", outcome.SupportReferenceNumber)
}
