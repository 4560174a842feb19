package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks EnquiryStore,EmailSender,TokenCipher,ReferenceGenerator,EventPublisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/enquiry/service/mocks"
	"tuitionmatch/internal/events"
	"tuitionmatch/internal/notify"
	"tuitionmatch/internal/session"
	"tuitionmatch/pkg/requestcontext"
	"tuitionmatch/pkg/sentinel"
)

const (
	testSessionID = "sess-1"
	testBaseURL   = "https://tuition.example.org"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

type SubmitSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	mockStore  *mocks.MockEnquiryStore
	mockSender *mocks.MockEmailSender
	mockCipher *mocks.MockTokenCipher
	mockRefs   *mocks.MockReferenceGenerator
	mockEvents *mocks.MockEventPublisher
	sessions   *session.Memory
	service    *Service
}

func TestSubmitSuite(t *testing.T) {
	suite.Run(t, new(SubmitSuite))
}

func (s *SubmitSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockEnquiryStore(s.ctrl)
	s.mockSender = mocks.NewMockEmailSender(s.ctrl)
	s.mockCipher = mocks.NewMockTokenCipher(s.ctrl)
	s.mockRefs = mocks.NewMockReferenceGenerator(s.ctrl)
	s.mockEvents = mocks.NewMockEventPublisher(s.ctrl)
	s.sessions = session.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(
		s.mockStore,
		s.sessions,
		s.mockSender,
		s.mockCipher,
		s.mockRefs,
		WithLogger(logger),
		WithEventPublisher(s.mockEvents),
	)
}

func (s *SubmitSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SubmitSuite) ctx() context.Context {
	ctx := requestcontext.WithSessionID(context.Background(), testSessionID)
	return requestcontext.WithTime(ctx, testNow)
}

func validSubmission() *models.EnquirySubmission {
	return &models.EnquirySubmission{
		Email:                  "parent@example.com",
		TutoringLogistics:      "2 pupils, twice a week after school",
		Postcode:               "SW1A 1AA",
		LocalAuthorityDistrict: "Westminster",
		TuitionType:            "online",
		Subjects:               []string{"KeyStage1-English", "KeyStage2-Maths"},
		TuitionPartners: []models.SelectedTuitionPartner{
			{ID: 1, Name: "Alpha Tutors", Email: "alpha@example.com"},
			{ID: 2, Name: "Bravo Learning", Email: "bravo@example.com"},
		},
		BaseServiceURL: testBaseURL,
	}
}

// expectTokenMinting wires the cipher to produce one deterministic, distinct
// token per plaintext.
func (s *SubmitSuite) expectTokenMinting() {
	s.mockCipher.EXPECT().GenerateRandomToken().Return("nonce", nil).AnyTimes()
	s.mockCipher.EXPECT().Encrypt(gomock.Any()).DoAndReturn(func(plaintext string) (string, error) {
		return "sealed:" + plaintext, nil
	}).AnyTimes()
}

func (s *SubmitSuite) expectEvents() {
	s.mockEvents.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func delivered() notify.Result {
	return notify.Result{Class: notify.StatusDelivered, StatusCode: 201, ProviderID: "prov-1"}
}

func (s *SubmitSuite) TestSubmit_Success() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.expectEvents()
	s.mockRefs.EXPECT().Generate().Return("QZ48301")

	var persisted *models.Enquiry
	create := s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *models.Enquiry) error {
			persisted = e
			return nil
		})

	var enquirerRecipients, partnerRecipients []models.Recipient
	confirm := s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ notify.TemplateID, _ string, recipients []models.Recipient) (notify.Result, error) {
			enquirerRecipients = recipients
			return delivered(), nil
		})
	fanout := s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryToTP, "QZ48301", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ notify.TemplateID, _ string, recipients []models.Recipient) (notify.Result, error) {
			partnerRecipients = recipients
			return delivered(), nil
		})
	// Persist first, then confirm the enquirer, then fan out to partners.
	gomock.InOrder(create, confirm, fanout)

	outcome := s.service.Submit(s.ctx(), sub)

	s.Equal(OutcomeSuccess, outcome.Kind)
	s.Equal("QZ48301", outcome.SupportReferenceNumber)

	s.Require().NotNil(persisted)
	s.Equal("QZ48301", persisted.SupportReferenceNumber)
	s.Equal(testNow, persisted.CreatedAt)
	s.Len(persisted.TuitionPartnerEnquiries, 2)
	s.Len(persisted.KeyStageSubjects, 2)
	// One link per partner plus the enquirer's view-all link, all bound to
	// the aggregate and expiring fourteen days out.
	s.Require().Len(persisted.MagicLinks, 3)
	for _, link := range persisted.MagicLinks {
		s.Require().NotNil(link.EnquiryID)
		s.Equal(persisted.ID, *link.EnquiryID)
		s.Equal(testNow.Add(models.DefaultMagicLinkValidity), link.ExpiresAt)
	}

	s.Require().Len(enquirerRecipients, 1)
	enquirer := enquirerRecipients[0]
	s.Equal("parent@example.com", enquirer.Email)
	s.Equal("2", enquirer.Personalisation[models.PersonalisationNumberOfTPsContacted])
	s.Equal("QZ48301", enquirer.Personalisation[models.PersonalisationReferenceNumber])
	s.Equal("14 March 2026 at 09:30", enquirer.Personalisation[models.PersonalisationDateTime])
	s.Equal(testBaseURL+"/enquiry/respond/all-enquirer-responses?token="+enquirer.Token,
		enquirer.Personalisation[models.PersonalisationViewAllResponsesLink])

	s.Require().Len(partnerRecipients, 2)
	alpha := partnerRecipients[0]
	s.Equal("alpha@example.com", alpha.Email)
	s.Equal("Alpha Tutors", alpha.Personalisation[models.PersonalisationTPName])
	s.Equal("Westminster", alpha.Personalisation[models.PersonalisationLocalAreaDistrict])
	s.Equal("QZ48301", alpha.Personalisation[models.PersonalisationReferenceNumber])
	s.Equal(testBaseURL+"/enquiry/respond/response?token="+alpha.Token,
		alpha.Personalisation[models.PersonalisationResponseFormLink])
	s.ElementsMatch([]string{models.PersonalisationTPName, models.PersonalisationResponseFormLink}, alpha.AmalgamateKeys)

	// Each recipient got its own token.
	s.NotEqual(partnerRecipients[0].Token, partnerRecipients[1].Token)
	s.NotEqual(enquirer.Token, partnerRecipients[0].Token)

	// Full completion clears both progress markers.
	_, err := s.sessions.Get(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.sessions.Get(context.Background(), testSessionID, session.KeySupportReferenceNumber)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SubmitSuite) TestSubmit_ValidationFailures() {
	cases := map[string]func(*models.EnquirySubmission){
		"no tuition partners":  func(sub *models.EnquirySubmission) { sub.TuitionPartners = nil },
		"no parseable subject": func(sub *models.EnquirySubmission) { sub.Subjects = []string{"KeyStage9-Alchemy", "garbage"} },
		"missing postcode":     func(sub *models.EnquirySubmission) { sub.Postcode = "" },
		"missing district":     func(sub *models.EnquirySubmission) { sub.LocalAuthorityDistrict = "" },
		"invalid email":        func(sub *models.EnquirySubmission) { sub.Email = "not-an-email" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			sub := validSubmission()
			mutate(sub)
			// No store, cipher or sender interaction expected.
			outcome := s.service.Submit(s.ctx(), sub)
			s.Equal(OutcomeValidationFailure, outcome.Kind)
			s.Empty(outcome.SupportReferenceNumber)
		})
	}
}

func (s *SubmitSuite) TestSubmit_ReferenceCollisionRetries() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.expectEvents()

	gomock.InOrder(
		s.mockRefs.EXPECT().Generate().Return("AA11111"),
		s.mockRefs.EXPECT().Generate().Return("BB22222"),
		s.mockRefs.EXPECT().Generate().Return("CC33333"),
	)
	gomock.InOrder(
		s.mockStore.EXPECT().Create(gomock.Any(), refMatcher("AA11111")).Return(sentinel.ErrReferenceInUse),
		s.mockStore.EXPECT().Create(gomock.Any(), refMatcher("BB22222")).Return(sentinel.ErrReferenceInUse),
		s.mockStore.EXPECT().Create(gomock.Any(), refMatcher("CC33333")).Return(nil),
	)
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "CC33333", gomock.Any()).Return(delivered(), nil)
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryToTP, "CC33333", gomock.Any()).Return(delivered(), nil)

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomeSuccess, outcome.Kind)
	s.Equal("CC33333", outcome.SupportReferenceNumber)
}

func (s *SubmitSuite) TestSubmit_ReferenceCollisionExhaustion() {
	sub := validSubmission()
	s.expectTokenMinting()

	s.mockRefs.EXPECT().Generate().Return("AA11111").Times(maxReferenceAttempts)
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrReferenceInUse).Times(maxReferenceAttempts)

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomePersistenceFailure, outcome.Kind)
}

func (s *SubmitSuite) TestSubmit_PersistenceFailure() {
	sub := validSubmission()
	s.expectTokenMinting()

	s.mockRefs.EXPECT().Generate().Return("QZ48301")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomePersistenceFailure, outcome.Kind)
}

func (s *SubmitSuite) TestSubmit_ContextCancelled() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.mockRefs.EXPECT().Generate().Return("QZ48301").AnyTimes()

	ctx, cancel := context.WithCancel(s.ctx())
	cancel()

	outcome := s.service.Submit(ctx, sub)
	s.Equal(OutcomePersistenceFailure, outcome.Kind)
}

func (s *SubmitSuite) TestSubmit_EnquirerEmailClientError() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.expectEvents()
	s.mockRefs.EXPECT().Generate().Return("QZ48301")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	// Provider rejects the address; no partner fan-out may follow.
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).
		Return(notify.Result{Class: notify.StatusClientError, StatusCode: 400}, nil)

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomeEmailClientError, outcome.Kind)

	status, err := s.sessions.Get(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus)
	s.NoError(err)
	s.Equal(session.Status4xxError, status)
	reference, err := s.sessions.Get(context.Background(), testSessionID, session.KeySupportReferenceNumber)
	s.NoError(err)
	s.Equal("QZ48301", reference)
}

func (s *SubmitSuite) TestSubmit_EnquirerEmailServerError() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.expectEvents()
	s.mockRefs.EXPECT().Generate().Return("QZ48301")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).
		Return(notify.Result{Class: notify.StatusServerError, StatusCode: 503}, nil)

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomeEmailServerError, outcome.Kind)

	status, err := s.sessions.Get(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus)
	s.NoError(err)
	s.Equal(session.Status5xxError, status)
}

func (s *SubmitSuite) TestSubmit_EnquirerEmailTransportError() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.expectEvents()
	s.mockRefs.EXPECT().Generate().Return("QZ48301")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	// No classifiable provider answer counts as a transient failure.
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).
		Return(notify.Result{}, errors.New("dial tcp: i/o timeout"))

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomeEmailServerError, outcome.Kind)

	status, err := s.sessions.Get(context.Background(), testSessionID, session.KeyEnquirerEmailSentStatus)
	s.NoError(err)
	s.Equal(session.Status5xxError, status)
}

func (s *SubmitSuite) TestSubmit_PartnerFanOutFailureStillSucceeds() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.expectEvents()
	s.mockRefs.EXPECT().Generate().Return("QZ48301")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryConfirmationToEnquirer, "QZ48301", gomock.Any()).Return(delivered(), nil)
	s.mockSender.EXPECT().Send(gomock.Any(), notify.TemplateEnquiryToTP, "QZ48301", gomock.Any()).
		Return(notify.Result{Class: notify.StatusServerError, StatusCode: 500}, nil)

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomeSuccess, outcome.Kind)
	s.Equal("QZ48301", outcome.SupportReferenceNumber)
}

func (s *SubmitSuite) TestSubmit_PublishesLifecycleEvents() {
	sub := validSubmission()
	s.expectTokenMinting()
	s.mockRefs.EXPECT().Generate().Return("QZ48301")
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(delivered(), nil).Times(2)

	var names []string
	s.mockEvents.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e events.Event) error {
			names = append(names, e.Name)
			s.Equal("QZ48301", e.SupportReference)
			return nil
		}).Times(2)

	outcome := s.service.Submit(s.ctx(), sub)
	s.Equal(OutcomeSuccess, outcome.Kind)
	s.Equal([]string{events.EventEnquirySubmitted, events.EventConfirmationDelivered}, names)
}

// refMatcher matches an *models.Enquiry by its support reference number.
type refMatcher string

func (m refMatcher) Matches(x any) bool {
	e, ok := x.(*models.Enquiry)
	return ok && e.SupportReferenceNumber == string(m)
}

func (m refMatcher) String() string {
	return fmt.Sprintf("enquiry with support reference %q", string(m))
}
