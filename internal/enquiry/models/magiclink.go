package models

import (
	"time"

	"github.com/google/uuid"
)

// MagicLinkType classifies who a magic link is addressed to.
type MagicLinkType string

const (
	// MagicLinkTypeEnquiryRequest gates one tuition partner's response form.
	MagicLinkTypeEnquiryRequest MagicLinkType = "EnquiryRequest"
	// MagicLinkTypeEnquirerViewAllResponses gates the enquirer's aggregated
	// responses view.
	MagicLinkTypeEnquirerViewAllResponses MagicLinkType = "EnquirerViewAllResponses"
)

// DefaultMagicLinkValidity is how long a link stays usable after creation.
const DefaultMagicLinkValidity = 14 * 24 * time.Hour

// MagicLink grants access to a specific view without login via an opaque
// encrypted token. Created in the same transaction as its enquiry and never
// mutated afterwards; expiry checks happen at read time.
type MagicLink struct {
	Token     string
	Type      MagicLinkType
	EnquiryID *uuid.UUID
	ExpiresAt time.Time
}

// NewMagicLink builds a link expiring DefaultMagicLinkValidity after now.
func NewMagicLink(token string, linkType MagicLinkType, now time.Time) MagicLink {
	return MagicLink{
		Token:     token,
		Type:      linkType,
		ExpiresAt: now.Add(DefaultMagicLinkValidity),
	}
}

// Expired reports whether the link is no longer usable at the given time.
func (m MagicLink) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}
