package enquirystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/pkg/sentinel"
)

const pqUniqueViolation = "23505"

// Postgres persists enquiry aggregates across the enquiries,
// tuition_partner_enquiries, key_stage_subject_enquiries and magic_links
// tables. The whole aggregate is written in one transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed enquiry store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create saves the aggregate atomically. A unique violation on the support
// reference index surfaces as sentinel.ErrReferenceInUse so the caller can
// regenerate and retry; any other failure is returned verbatim.
func (s *Postgres) Create(ctx context.Context, enquiry *models.Enquiry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enquiry tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var tuitionType sql.NullString
	if enquiry.TuitionType != nil {
		tuitionType = sql.NullString{String: string(*enquiry.TuitionType), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enquiries (
			id, email, tutoring_logistics, send_requirements, additional_information,
			postcode, local_authority_district, tuition_type,
			support_reference_number, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		enquiry.ID, enquiry.Email, enquiry.TutoringLogistics,
		nullable(enquiry.SENDRequirements), nullable(enquiry.AdditionalInformation),
		enquiry.Postcode, enquiry.LocalAuthorityDistrict, tuitionType,
		enquiry.SupportReferenceNumber, enquiry.CreatedAt,
	)
	if err != nil {
		if isReferenceUniqueViolation(err) {
			return sentinel.ErrReferenceInUse
		}
		return fmt.Errorf("insert enquiry: %w", err)
	}

	for _, tp := range enquiry.TuitionPartnerEnquiries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tuition_partner_enquiries (enquiry_id, tuition_partner_id, tuition_partner_name, tuition_partner_email)
			VALUES ($1, $2, $3, $4)
		`, enquiry.ID, tp.TuitionPartnerID, tp.TuitionPartnerName, tp.TuitionPartnerEmail); err != nil {
			return fmt.Errorf("insert tuition partner enquiry: %w", err)
		}
	}

	for _, pair := range enquiry.KeyStageSubjects {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO key_stage_subject_enquiries (enquiry_id, key_stage_id, subject_id)
			VALUES ($1, $2, $3)
		`, enquiry.ID, pair.KeyStageID, pair.SubjectID); err != nil {
			return fmt.Errorf("insert key stage subject enquiry: %w", err)
		}
	}

	for _, link := range enquiry.MagicLinks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO magic_links (token, link_type, enquiry_id, expires_at)
			VALUES ($1, $2, $3, $4)
		`, link.Token, string(link.Type), enquiry.ID, link.ExpiresAt); err != nil {
			return fmt.Errorf("insert magic link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isReferenceUniqueViolation(err) {
			return sentinel.ErrReferenceInUse
		}
		return fmt.Errorf("commit enquiry tx: %w", err)
	}
	return nil
}

// FindBySupportReference loads the full aggregate by reference number, or
// sentinel.ErrNotFound.
func (s *Postgres) FindBySupportReference(ctx context.Context, reference string) (*models.Enquiry, error) {
	var (
		e                models.Enquiry
		sendRequirements sql.NullString
		additionalInfo   sql.NullString
		tuitionType      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, tutoring_logistics, send_requirements, additional_information,
		       postcode, local_authority_district, tuition_type,
		       support_reference_number, created_at
		FROM enquiries
		WHERE support_reference_number = $1
	`, reference).Scan(
		&e.ID, &e.Email, &e.TutoringLogistics, &sendRequirements, &additionalInfo,
		&e.Postcode, &e.LocalAuthorityDistrict, &tuitionType,
		&e.SupportReferenceNumber, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find enquiry by reference: %w", err)
	}

	if sendRequirements.Valid {
		e.SENDRequirements = &sendRequirements.String
	}
	if additionalInfo.Valid {
		e.AdditionalInformation = &additionalInfo.String
	}
	if tuitionType.Valid {
		e.TuitionType = models.ParseTuitionType(tuitionType.String)
	}

	if e.TuitionPartnerEnquiries, err = s.loadPartners(ctx, e.ID); err != nil {
		return nil, err
	}
	if e.KeyStageSubjects, err = s.loadKeyStageSubjects(ctx, e.ID); err != nil {
		return nil, err
	}
	if e.MagicLinks, err = s.loadMagicLinks(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindMagicLinkByToken returns the magic link for a token, or
// sentinel.ErrNotFound.
func (s *Postgres) FindMagicLinkByToken(ctx context.Context, token string) (*models.MagicLink, error) {
	var (
		link      models.MagicLink
		linkType  string
		enquiryID uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, link_type, enquiry_id, expires_at
		FROM magic_links
		WHERE token = $1
	`, token).Scan(&link.Token, &linkType, &enquiryID, &link.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find magic link by token: %w", err)
	}
	link.Type = models.MagicLinkType(linkType)
	if enquiryID.Valid {
		link.EnquiryID = &enquiryID.UUID
	}
	return &link, nil
}

// Count returns the total number of enquiries.
func (s *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enquiries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count enquiries: %w", err)
	}
	return n, nil
}

// DeleteExpiredMagicLinks purges links past their expiry.
func (s *Postgres) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM magic_links WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links: %w", err)
	}
	return res.RowsAffected()
}

func (s *Postgres) loadPartners(ctx context.Context, enquiryID uuid.UUID) ([]models.TuitionPartnerEnquiry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tpe.tuition_partner_id, tpe.tuition_partner_name, tpe.tuition_partner_email,
		       er.response_text, er.created_at
		FROM tuition_partner_enquiries tpe
		LEFT JOIN enquiry_responses er ON er.enquiry_id = tpe.enquiry_id AND er.tuition_partner_id = tpe.tuition_partner_id
		WHERE tpe.enquiry_id = $1
		ORDER BY tpe.tuition_partner_id
	`, enquiryID)
	if err != nil {
		return nil, fmt.Errorf("load tuition partner enquiries: %w", err)
	}
	defer rows.Close()

	var partners []models.TuitionPartnerEnquiry
	for rows.Next() {
		var (
			tp           models.TuitionPartnerEnquiry
			responseText sql.NullString
			respondedAt  sql.NullTime
		)
		if err := rows.Scan(&tp.TuitionPartnerID, &tp.TuitionPartnerName, &tp.TuitionPartnerEmail, &responseText, &respondedAt); err != nil {
			return nil, fmt.Errorf("scan tuition partner enquiry: %w", err)
		}
		if responseText.Valid {
			tp.Response = &models.EnquiryResponse{ResponseText: responseText.String, CreatedAt: respondedAt.Time}
		}
		partners = append(partners, tp)
	}
	return partners, rows.Err()
}

func (s *Postgres) loadKeyStageSubjects(ctx context.Context, enquiryID uuid.UUID) ([]models.KeyStageSubject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_stage_id, subject_id
		FROM key_stage_subject_enquiries
		WHERE enquiry_id = $1
	`, enquiryID)
	if err != nil {
		return nil, fmt.Errorf("load key stage subjects: %w", err)
	}
	defer rows.Close()

	var pairs []models.KeyStageSubject
	for rows.Next() {
		var pair models.KeyStageSubject
		if err := rows.Scan(&pair.KeyStageID, &pair.SubjectID); err != nil {
			return nil, fmt.Errorf("scan key stage subject: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (s *Postgres) loadMagicLinks(ctx context.Context, enquiryID uuid.UUID) ([]models.MagicLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, link_type, expires_at
		FROM magic_links
		WHERE enquiry_id = $1
	`, enquiryID)
	if err != nil {
		return nil, fmt.Errorf("load magic links: %w", err)
	}
	defer rows.Close()

	var links []models.MagicLink
	for rows.Next() {
		var (
			link     models.MagicLink
			linkType string
		)
		if err := rows.Scan(&link.Token, &linkType, &link.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan magic link: %w", err)
		}
		link.Type = models.MagicLinkType(linkType)
		id := enquiryID
		link.EnquiryID = &id
		links = append(links, link)
	}
	return links, rows.Err()
}

// isReferenceUniqueViolation reports whether err is a Postgres unique
// violation attributable to the support reference number index. Other unique
// violations (e.g. the magic link token index) must not trigger a reference
// regeneration.
func isReferenceUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation &&
		strings.Contains(pqErr.Constraint, "support_reference")
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
