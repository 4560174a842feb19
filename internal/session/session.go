// Package session provides the per-user-session progress store backing the
// enquiry submission workflow.
//
// Progress markers persist across requests within one session so a
// resubmission after a transient email failure can resume the prior attempt
// instead of creating a duplicate enquiry.
package session

import "context"

// Progress marker keys.
const (
	// KeyEnquirerEmailSentStatus records the outcome of the most recent
	// enquirer confirmation email attempt.
	KeyEnquirerEmailSentStatus = "EnquirerEmailSentStatus"
	// KeySupportReferenceNumber records the reference of the enquiry
	// persisted by a prior attempt.
	KeySupportReferenceNumber = "SupportReferenceNumber"
)

// Values for KeyEnquirerEmailSentStatus.
const (
	StatusDelivered = "Delivered"
	Status4xxError  = "4xxError"
	Status5xxError  = "5xxError"
)

// Store is a durable per-session key/value store. Get returns
// sentinel.ErrNotFound for unset keys. Scoping is the caller's session id;
// values are not shared across sessions.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
}
