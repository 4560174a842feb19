package e2e

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"

	"tuitionmatch/pkg/refnum"
)

// RegisterSteps binds the enquiry submission step definitions to tc.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^the notification provider accepts all emails$`, tc.providerAcceptsAll)
	ctx.Step(`^the notification provider rejects the enquirer confirmation with status (\d+)$`, tc.providerRejectsConfirmation)

	ctx.Step(`^I submit an enquiry for (\d+) tuition partners with postcode "([^"]*)" and district "([^"]*)"$`, tc.submitEnquiry)
	ctx.Step(`^I resubmit the same enquiry with email "([^"]*)"$`, tc.resubmitWithEmail)
	ctx.Step(`^I submit an enquiry without a postcode$`, tc.submitWithoutPostcode)
	ctx.Step(`^I validate one of the stored magic link tokens$`, tc.validateStoredToken)
	ctx.Step(`^I validate the token "([^"]*)"$`, tc.validateToken)

	ctx.Step(`^the response status is (\d+)$`, tc.responseStatusIs)
	ctx.Step(`^the response contains a support reference number$`, tc.responseHasReference)
	ctx.Step(`^the response reference matches the stored enquiry$`, tc.responseReferenceMatchesStore)
	ctx.Step(`^the stored enquiry has (\d+) tuition partner enquiries and (\d+) magic links$`, tc.storedEnquiryShape)
	ctx.Step(`^(\d+) enquir(?:y is|ies are) stored$`, tc.enquiriesStored)
	ctx.Step(`^the provider delivered (\d+) confirmation emails? and (\d+) partner emails?$`, tc.providerDeliveredCounts)
	ctx.Step(`^the provider delivered no partner emails$`, tc.providerDeliveredNoPartnerEmails)
	ctx.Step(`^the provider delivered a confirmation email to "([^"]*)"$`, tc.providerDeliveredConfirmationTo)
}

func (tc *TestContext) providerAcceptsAll() error {
	tc.rejectStatus = 0
	return nil
}

func (tc *TestContext) providerRejectsConfirmation(status int) error {
	tc.rejectStatus = status
	return nil
}

func (tc *TestContext) submitEnquiry(partners int, postcode, district string) error {
	tps := make([]map[string]any, 0, partners)
	for i := 1; i <= partners; i++ {
		tps = append(tps, map[string]any{
			"id":    i,
			"name":  fmt.Sprintf("Partner %d", i),
			"email": fmt.Sprintf("partner%d@example.com", i),
		})
	}
	tc.lastSubmission = map[string]any{
		"email":                    "parent@example.com",
		"tutoring_logistics":       "twice weekly after school",
		"postcode":                 postcode,
		"local_authority_district": district,
		"subjects":                 []string{"KeyStage1-English"},
		"tuition_partners":         tps,
	}
	return tc.post("/enquiries", tc.lastSubmission)
}

func (tc *TestContext) resubmitWithEmail(email string) error {
	if tc.lastSubmission == nil {
		return fmt.Errorf("no prior submission to resubmit")
	}
	tc.lastSubmission["email"] = email
	return tc.post("/enquiries", tc.lastSubmission)
}

func (tc *TestContext) submitWithoutPostcode() error {
	tc.lastSubmission = map[string]any{
		"email":                    "parent@example.com",
		"local_authority_district": "Stockport",
		"subjects":                 []string{"KeyStage1-English"},
		"tuition_partners": []map[string]any{
			{"id": 1, "name": "Partner 1", "email": "partner1@example.com"},
		},
	}
	return tc.post("/enquiries", tc.lastSubmission)
}

func (tc *TestContext) validateStoredToken() error {
	enquiry, err := tc.storedEnquiry()
	if err != nil {
		return err
	}
	if len(enquiry.MagicLinks) == 0 {
		return fmt.Errorf("stored enquiry has no magic links")
	}
	return tc.validateToken(enquiry.MagicLinks[0].Token)
}

func (tc *TestContext) validateToken(token string) error {
	return tc.get("/magic-links/validate?token=" + url.QueryEscape(token))
}

func (tc *TestContext) responseStatusIs(status int) error {
	if tc.lastStatus != status {
		return fmt.Errorf("expected status %d, got %d (body %v)", status, tc.lastStatus, tc.lastBody)
	}
	return nil
}

func (tc *TestContext) responseHasReference() error {
	reference, err := tc.lastReference()
	if err != nil {
		return err
	}
	if !refnum.Valid(reference) {
		return fmt.Errorf("malformed support reference number %q", reference)
	}
	return nil
}

func (tc *TestContext) responseReferenceMatchesStore() error {
	if _, err := tc.storedEnquiry(); err != nil {
		return fmt.Errorf("response reference does not resolve to a stored enquiry: %w", err)
	}
	return nil
}

func (tc *TestContext) storedEnquiryShape(partners, links int) error {
	enquiry, err := tc.storedEnquiry()
	if err != nil {
		return err
	}
	if got := len(enquiry.TuitionPartnerEnquiries); got != partners {
		return fmt.Errorf("expected %d tuition partner enquiries, got %d", partners, got)
	}
	if got := len(enquiry.MagicLinks); got != links {
		return fmt.Errorf("expected %d magic links, got %d", links, got)
	}
	return nil
}

func (tc *TestContext) enquiriesStored(want int) error {
	got, err := tc.store.Count(context.Background())
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %d stored enquiries, got %d", want, got)
	}
	return nil
}

func (tc *TestContext) providerDeliveredCounts(confirmations, partnerSends int) error {
	gotConfirmations, gotPartnerSends := 0, 0
	for _, call := range tc.delivered {
		switch call.templateID {
		case confirmationTemplateID:
			gotConfirmations++
		case enquiryToTPTemplateID:
			gotPartnerSends++
		}
	}
	if gotConfirmations != confirmations || gotPartnerSends != partnerSends {
		return fmt.Errorf("expected %d confirmations and %d partner sends, got %d and %d",
			confirmations, partnerSends, gotConfirmations, gotPartnerSends)
	}
	return nil
}

func (tc *TestContext) providerDeliveredNoPartnerEmails() error {
	for _, call := range tc.delivered {
		if call.templateID == enquiryToTPTemplateID {
			return fmt.Errorf("unexpected partner send to %v", call.emails)
		}
	}
	return nil
}

func (tc *TestContext) providerDeliveredConfirmationTo(email string) error {
	for _, call := range tc.delivered {
		if call.templateID != confirmationTemplateID {
			continue
		}
		for _, addr := range call.emails {
			if addr == email {
				return nil
			}
		}
	}
	return fmt.Errorf("no delivered confirmation addressed to %q", email)
}
