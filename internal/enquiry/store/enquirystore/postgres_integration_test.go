//go:build integration

package enquirystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/internal/enquiry/store/enquirystore"
	"tuitionmatch/pkg/sentinel"
	"tuitionmatch/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *enquirystore.Postgres
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	_, err := s.pg.DB.ExecContext(s.ctx, enquirystore.Schema)
	s.Require().NoError(err)
	s.store = enquirystore.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	for _, table := range []string{"enquiry_responses", "magic_links", "key_stage_subject_enquiries", "tuition_partner_enquiries", "enquiries"} {
		_, err := s.pg.DB.ExecContext(s.ctx, "DELETE FROM "+table)
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) newEnquiry(reference string) *models.Enquiry {
	sub := &models.EnquirySubmission{
		Email:                  "parent@example.com",
		TutoringLogistics:      "Weekly sessions after school",
		SENDRequirements:       "Dyslexia support",
		Postcode:               "SK1 1EB",
		LocalAuthorityDistrict: "Stockport",
		TuitionType:            "online",
		Subjects:               []string{"KeyStage1-English", "KeyStage2-Maths"},
		TuitionPartners: []models.SelectedTuitionPartner{
			{ID: 1, Name: "Bright Sparks", Email: "hello@brightsparks.example"},
			{ID: 2, Name: "Apex Tutors", Email: "contact@apex.example"},
		},
	}
	e, err := models.NewEnquiry(uuid.New(), sub, reference, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	e.AttachMagicLinks([]models.MagicLink{
		models.NewMagicLink("tok-"+reference+"-1", models.MagicLinkTypeEnquiryRequest, e.CreatedAt),
		models.NewMagicLink("tok-"+reference+"-2", models.MagicLinkTypeEnquiryRequest, e.CreatedAt),
		models.NewMagicLink("tok-"+reference+"-e", models.MagicLinkTypeEnquirerViewAllResponses, e.CreatedAt),
	})
	return e
}

func (s *PostgresStoreSuite) TestCreateAndFindRoundTrip() {
	e := s.newEnquiry("AB12345")
	s.Require().NoError(s.store.Create(s.ctx, e))

	found, err := s.store.FindBySupportReference(s.ctx, "AB12345")
	s.Require().NoError(err)
	s.Equal(e.ID, found.ID)
	s.Equal(e.Email, found.Email)
	s.Require().NotNil(found.SENDRequirements)
	s.Equal("Dyslexia support", *found.SENDRequirements)
	s.Nil(found.AdditionalInformation)
	s.Require().NotNil(found.TuitionType)
	s.Equal(models.TuitionTypeOnline, *found.TuitionType)
	s.Len(found.TuitionPartnerEnquiries, 2)
	s.Len(found.KeyStageSubjects, 2)
	s.Len(found.MagicLinks, 3)
}

func (s *PostgresStoreSuite) TestReferenceUniqueViolation() {
	s.Require().NoError(s.store.Create(s.ctx, s.newEnquiry("AB12345")))

	err := s.store.Create(s.ctx, s.newEnquiryWithTokens("AB12345", "other-1", "other-2", "other-e"))
	s.Require().ErrorIs(err, sentinel.ErrReferenceInUse)

	n, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) newEnquiryWithTokens(reference string, tokens ...string) *models.Enquiry {
	e := s.newEnquiry(reference)
	for i := range e.MagicLinks {
		e.MagicLinks[i].Token = tokens[i]
	}
	return e
}

func (s *PostgresStoreSuite) TestTokenUniqueViolationIsNotReferenceConflict() {
	s.Require().NoError(s.store.Create(s.ctx, s.newEnquiry("AB12345")))

	// Same token, different reference: must fail, but not as ErrReferenceInUse.
	dup := s.newEnquiryWithTokens("CD67890", "tok-AB12345-1", "x2", "x3")
	err := s.store.Create(s.ctx, dup)
	s.Require().Error(err)
	s.NotErrorIs(err, sentinel.ErrReferenceInUse)
}

func (s *PostgresStoreSuite) TestFindMagicLinkByToken() {
	e := s.newEnquiry("AB12345")
	s.Require().NoError(s.store.Create(s.ctx, e))

	link, err := s.store.FindMagicLinkByToken(s.ctx, "tok-AB12345-e")
	s.Require().NoError(err)
	s.Equal(models.MagicLinkTypeEnquirerViewAllResponses, link.Type)

	_, err = s.store.FindMagicLinkByToken(s.ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDeleteExpiredMagicLinks() {
	e := s.newEnquiry("AB12345")
	s.Require().NoError(s.store.Create(s.ctx, e))

	removed, err := s.store.DeleteExpiredMagicLinks(s.ctx, time.Now())
	s.Require().NoError(err)
	s.Zero(removed)

	removed, err = s.store.DeleteExpiredMagicLinks(s.ctx, time.Now().Add(15*24*time.Hour))
	s.Require().NoError(err)
	s.EqualValues(3, removed)
}

func (s *PostgresStoreSuite) TestAggregateIsAtomic() {
	// Force a failure on the magic link insert (duplicate token within the
	// same aggregate) and verify nothing was committed.
	e := s.newEnquiryWithTokens("AB12345", "same", "same", "same-e")
	err := s.store.Create(s.ctx, e)
	s.Require().Error(err)

	n, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}
