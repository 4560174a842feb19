package notify

import (
	"fmt"

	"tuitionmatch/internal/enquiry/models"
)

// TemplateID identifies a transactional email template at the provider.
type TemplateID string

// Template names used by the enquiry workflow. The provider-side template
// UUIDs are configured per environment; these constants key the lookup.
const (
	TemplateEnquiryConfirmationToEnquirer TemplateID = "enquiry-confirmation-to-enquirer"
	TemplateEnquiryToTP                   TemplateID = "enquiry-to-tp"
)

// requiredKeys lists the personalisation every template must carry. Sends
// with missing keys are rejected before any provider call, replacing the
// runtime surprises of the loosely typed maps this service used to pass
// around.
var requiredKeys = map[TemplateID][]string{
	TemplateEnquiryConfirmationToEnquirer: {
		models.PersonalisationNumberOfTPsContacted,
		models.PersonalisationViewAllResponsesLink,
		models.PersonalisationReferenceNumber,
		models.PersonalisationDateTime,
	},
	TemplateEnquiryToTP: {
		models.PersonalisationTPName,
		models.PersonalisationResponseFormLink,
		models.PersonalisationLocalAreaDistrict,
		models.PersonalisationReferenceNumber,
		models.PersonalisationDateTime,
	},
}

// validatePersonalisation checks every recipient carries the template's
// required keys.
func validatePersonalisation(template TemplateID, recipients []models.Recipient) error {
	keys, ok := requiredKeys[template]
	if !ok {
		return fmt.Errorf("unknown template %q", template)
	}
	for _, r := range recipients {
		for _, key := range keys {
			if _, present := r.Personalisation[key]; !present {
				return fmt.Errorf("recipient %s missing personalisation key %q for template %q", r.Email, key, template)
			}
		}
	}
	return nil
}
