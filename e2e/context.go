// Package e2e drives the enquiry workflow end to end: real router, real
// service, real token cipher, in-memory stores and a stub notification
// provider over HTTP.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	"tuitionmatch/internal/enquiry"
	"tuitionmatch/internal/enquiry/models"
	enquiryservice "tuitionmatch/internal/enquiry/service"
	"tuitionmatch/internal/enquiry/store/enquirystore"
	"tuitionmatch/internal/notify"
	"tuitionmatch/internal/session"
	"tuitionmatch/pkg/refnum"
	"tuitionmatch/pkg/tokencipher"
)

const (
	confirmationTemplateID = "tmpl-confirmation"
	enquiryToTPTemplateID  = "tmpl-enquiry-to-tp"
)

// providerCall records one accepted send at the stub notification provider.
type providerCall struct {
	templateID string
	emails     []string
}

// TestContext holds the in-process application stack and the state shared
// between steps of one scenario.
type TestContext struct {
	app      *httptest.Server
	provider *httptest.Server
	store    *enquirystore.InMemory
	client   *http.Client

	// rejectStatus, when non-zero, makes the provider reject confirmation
	// sends with that HTTP status.
	rejectStatus int
	delivered    []providerCall

	lastSubmission map[string]any
	lastStatus     int
	lastBody       map[string]any
}

// NewTestContext builds a fresh application stack for one scenario.
func NewTestContext() (*TestContext, error) {
	tc := &TestContext{store: enquirystore.NewInMemory()}

	tc.provider = httptest.NewServer(http.HandlerFunc(tc.handleProviderSend))

	cipher, err := tokencipher.New(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := notify.NewClient(tc.provider.URL, "test-api-key", map[notify.TemplateID]string{
		notify.TemplateEnquiryConfirmationToEnquirer: confirmationTemplateID,
		notify.TemplateEnquiryToTP:                   enquiryToTPTemplateID,
	}, notify.WithLogger(logger))

	svc := enquiry.NewService(tc.store, session.NewMemory(), sender, cipher, refnum.New(), enquiryservice.WithLogger(logger))

	router := chi.NewRouter()
	enquiry.NewHandler(svc, "https://tuition.example.org", logger).Register(router)
	tc.app = httptest.NewServer(router)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	tc.client = &http.Client{Jar: jar}
	return tc, nil
}

// Close shuts the scenario's servers down.
func (tc *TestContext) Close() {
	tc.app.Close()
	tc.provider.Close()
}

// handleProviderSend is the stub notification provider endpoint.
func (tc *TestContext) handleProviderSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID string `json:"template_id"`
		Recipients []struct {
			EmailAddress string `json:"email_address"`
		} `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"errors":["bad request"]}`, http.StatusBadRequest)
		return
	}

	if req.TemplateID == confirmationTemplateID && tc.rejectStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(tc.rejectStatus)
		fmt.Fprint(w, `{"errors":["scripted rejection"]}`)
		return
	}

	call := providerCall{templateID: req.TemplateID}
	for _, rcpt := range req.Recipients {
		call.emails = append(call.emails, rcpt.EmailAddress)
	}
	tc.delivered = append(tc.delivered, call)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprint(w, `{"id":"stub-notification"}`)
}

// post sends a JSON body and records the response.
func (tc *TestContext) post(path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := tc.client.Post(tc.app.URL+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	return tc.record(resp)
}

// get fetches a path and records the response.
func (tc *TestContext) get(path string) error {
	resp, err := tc.client.Get(tc.app.URL + path)
	if err != nil {
		return err
	}
	return tc.record(resp)
}

func (tc *TestContext) record(resp *http.Response) error {
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody = nil
	return json.NewDecoder(resp.Body).Decode(&tc.lastBody)
}

// storedEnquiry loads the single stored enquiry by the last seen reference.
func (tc *TestContext) storedEnquiry() (*models.Enquiry, error) {
	reference, err := tc.lastReference()
	if err != nil {
		return nil, err
	}
	return tc.store.FindBySupportReference(context.Background(), reference)
}

func (tc *TestContext) lastReference() (string, error) {
	reference, ok := tc.lastBody["support_reference_number"].(string)
	if !ok || reference == "" {
		return "", fmt.Errorf("no support reference number in last response: %v", tc.lastBody)
	}
	return reference, nil
}
