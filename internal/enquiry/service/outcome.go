package service

// OutcomeKind classifies the result of a submission attempt.
type OutcomeKind string

const (
	// OutcomeSuccess: the enquiry is persisted and the enquirer confirmation
	// was delivered.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeValidationFailure: a required field is missing; nothing was
	// persisted or sent.
	OutcomeValidationFailure OutcomeKind = "validation_failure"
	// OutcomeEmailClientError: the enquiry is persisted but the provider
	// rejected the enquirer's address (4xx). The caller can correct the
	// email and resubmit; reconciliation will reuse the persisted enquiry.
	OutcomeEmailClientError OutcomeKind = "email_client_error"
	// OutcomeEmailServerError: as above, but the provider failed
	// transiently (5xx).
	OutcomeEmailServerError OutcomeKind = "email_server_error"
	// OutcomePersistenceFailure: the submission aborted before any email;
	// also covers unrecoverable reconciliation.
	OutcomePersistenceFailure OutcomeKind = "persistence_failure"
)

// SubmissionOutcome is the typed result of Submit. SupportReferenceNumber is
// set only on success.
type SubmissionOutcome struct {
	Kind                   OutcomeKind
	SupportReferenceNumber string
}

func success(reference string) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeSuccess, SupportReferenceNumber: reference}
}

func failure(kind OutcomeKind) SubmissionOutcome {
	return SubmissionOutcome{Kind: kind}
}
