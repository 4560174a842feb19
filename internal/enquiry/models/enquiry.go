package models

import (
	"time"

	"github.com/google/uuid"

	"tuitionmatch/pkg/domainerr"
)

// TuitionType classifies how tuition is delivered. Optional on an enquiry.
type TuitionType string

const (
	TuitionTypeInSchool TuitionType = "in-school"
	TuitionTypeOnline   TuitionType = "online"
)

// ParseTuitionType maps a client-supplied classifier onto a known tuition
// type. Unknown or empty input yields nil, matching the optional column.
func ParseTuitionType(s string) *TuitionType {
	switch TuitionType(s) {
	case TuitionTypeInSchool, TuitionTypeOnline:
		t := TuitionType(s)
		return &t
	default:
		return nil
	}
}

// Enquiry is the aggregate root for one parent/school tutoring request.
//
// Invariants:
//   - SupportReferenceNumber is unique across all enquiries; enforced by the
//     store's uniqueness constraint, not by callers
//   - at least one TuitionPartnerEnquiry and one KeyStageSubject
//   - Postcode and LocalAuthorityDistrict are non-empty
//   - owned collections are created atomically with the enquiry and never
//     independently
//
// MagicLinks carries one EnquiryRequest link per contacted partner plus one
// EnquirerViewAllResponses link for the enquirer.
type Enquiry struct {
	ID                     uuid.UUID
	Email                  string
	TutoringLogistics      string
	SENDRequirements       *string
	AdditionalInformation  *string
	Postcode               string
	LocalAuthorityDistrict string
	TuitionType            *TuitionType
	SupportReferenceNumber string
	CreatedAt              time.Time

	TuitionPartnerEnquiries []TuitionPartnerEnquiry
	KeyStageSubjects        []KeyStageSubject
	MagicLinks              []MagicLink
}

// TuitionPartnerEnquiry links an enquiry to one selected tuition partner.
// Response is nil until the partner replies.
type TuitionPartnerEnquiry struct {
	TuitionPartnerID    int
	TuitionPartnerName  string
	TuitionPartnerEmail string
	Response            *EnquiryResponse
}

// EnquiryResponse is a tuition partner's eventual reply to an enquiry.
type EnquiryResponse struct {
	ResponseText string
	CreatedAt    time.Time
}

// NewEnquiry constructs the aggregate, enforcing the submission preconditions.
// The support reference number is assigned by the caller (it may be
// regenerated on store conflicts before the aggregate is committed).
func NewEnquiry(id uuid.UUID, sub *EnquirySubmission, reference string, now time.Time) (*Enquiry, error) {
	if len(sub.TuitionPartners) == 0 {
		return nil, domainerr.New(domainerr.CodeValidation, "enquiry names no tuition partners")
	}
	pairs := ParseKeyStageSubjects(sub.Subjects)
	if len(pairs) == 0 {
		return nil, domainerr.New(domainerr.CodeValidation, "enquiry contains no key stage and subjects")
	}
	if sub.Postcode == "" {
		return nil, domainerr.New(domainerr.CodeValidation, "enquiry contains no postcode")
	}
	if sub.LocalAuthorityDistrict == "" {
		return nil, domainerr.New(domainerr.CodeValidation, "enquiry contains no local authority district name")
	}

	partners := make([]TuitionPartnerEnquiry, 0, len(sub.TuitionPartners))
	for _, tp := range sub.TuitionPartners {
		partners = append(partners, TuitionPartnerEnquiry{
			TuitionPartnerID:    tp.ID,
			TuitionPartnerName:  tp.Name,
			TuitionPartnerEmail: tp.Email,
		})
	}

	return &Enquiry{
		ID:                      id,
		Email:                   sub.Email,
		TutoringLogistics:       sub.TutoringLogistics,
		SENDRequirements:        optional(sub.SENDRequirements),
		AdditionalInformation:   optional(sub.AdditionalInformation),
		Postcode:                sub.Postcode,
		LocalAuthorityDistrict:  sub.LocalAuthorityDistrict,
		TuitionType:             ParseTuitionType(sub.TuitionType),
		SupportReferenceNumber:  reference,
		CreatedAt:               now,
		TuitionPartnerEnquiries: partners,
		KeyStageSubjects:        pairs,
	}, nil
}

// AttachMagicLinks binds the link set to the aggregate prior to the initial
// save. Links share the enquiry's transaction and are immutable afterwards.
func (e *Enquiry) AttachMagicLinks(links []MagicLink) {
	for i := range links {
		links[i].EnquiryID = &e.ID
	}
	e.MagicLinks = links
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
