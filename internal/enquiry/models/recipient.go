package models

// Personalisation keys substituted into notification templates.
const (
	PersonalisationNumberOfTPsContacted = "number_of_tps_contacted"
	PersonalisationViewAllResponsesLink = "link_to_enquirer_view_all_responses_page"
	PersonalisationTPName               = "tp_name"
	PersonalisationLocalAreaDistrict    = "local_area_district"
	PersonalisationResponseFormLink     = "link_to_tp_response_form"
	PersonalisationReferenceNumber      = "reference_number"
	PersonalisationDateTime             = "date_time"
)

// Recipient is the transient per-send target of one templated notification.
// It is built during submission and discarded after dispatch; only the token
// survives, as a MagicLink row.
type Recipient struct {
	Email           string
	Token           string
	Personalisation map[string]string

	// AmalgamateKeys names the personalisation keys that must be merged when
	// multiple notifications to the same physical inbox are later
	// consolidated downstream.
	AmalgamateKeys []string
}

// SelectedTuitionPartner identifies one partner chosen by the enquirer.
type SelectedTuitionPartner struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EnquirySubmission is the structured input to the submission workflow,
// assembled by the caller from the enquirer's answers.
type EnquirySubmission struct {
	Email                  string                   `json:"email"`
	TutoringLogistics      string                   `json:"tutoring_logistics"`
	SENDRequirements       string                   `json:"send_requirements,omitempty"`
	AdditionalInformation  string                   `json:"additional_information,omitempty"`
	Postcode               string                   `json:"postcode"`
	LocalAuthorityDistrict string                   `json:"local_authority_district"`
	TuitionType            string                   `json:"tuition_type,omitempty"`
	Subjects               []string                 `json:"subjects"`
	TuitionPartners        []SelectedTuitionPartner `json:"tuition_partners"`
	BaseServiceURL         string                   `json:"base_service_url"`
}
