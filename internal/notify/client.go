// Package notify dispatches templated transactional emails through an
// HTTP notification provider.
//
// One Send call covers all recipients of a template as a single batched
// provider request, so a multi-recipient send has exactly one delivery
// outcome; per-recipient fan-out ambiguity is avoided by design of the
// submission workflow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tuitionmatch/internal/enquiry/models"
)

// StatusClass classifies a delivery outcome by the provider's HTTP status.
type StatusClass string

const (
	StatusDelivered   StatusClass = "Delivered"
	StatusClientError StatusClass = "4xxError"
	StatusServerError StatusClass = "5xxError"
)

// Result is the outcome of one Send call.
type Result struct {
	Class      StatusClass
	StatusCode int
	ProviderID string
}

// Delivered reports whether the provider accepted the send.
func (r Result) Delivered() bool { return r.Class == StatusDelivered }

// Client talks to the notification provider's JSON API.
type Client struct {
	baseURL     string
	apiKey      string
	templateIDs map[TemplateID]string
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a provider client. templateIDs maps workflow template
// names onto the provider-side template identifiers.
func NewClient(baseURL, apiKey string, templateIDs map[TemplateID]string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		templateIDs: templateIDs,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendRequest struct {
	TemplateID string          `json:"template_id"`
	Reference  string          `json:"reference,omitempty"`
	Recipients []sendRecipient `json:"recipients"`
}

type sendRecipient struct {
	EmailAddress    string            `json:"email_address"`
	Personalisation map[string]string `json:"personalisation"`
	AmalgamateKeys  []string          `json:"amalgamate_keys,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send dispatches one templated email to the given recipients as a single
// batched provider call. The returned Result classifies the provider's HTTP
// status; a non-nil error means the request never got a classifiable answer
// (encoding or transport failure).
func (c *Client) Send(ctx context.Context, template TemplateID, reference string, recipients []models.Recipient) (Result, error) {
	if len(recipients) == 0 {
		return Result{}, fmt.Errorf("no recipients for template %q", template)
	}
	if err := validatePersonalisation(template, recipients); err != nil {
		return Result{}, err
	}
	providerTemplate, ok := c.templateIDs[template]
	if !ok {
		return Result{}, fmt.Errorf("no provider template configured for %q", template)
	}

	payload := sendRequest{
		TemplateID: providerTemplate,
		Reference:  reference,
		Recipients: make([]sendRecipient, 0, len(recipients)),
	}
	for _, r := range recipients {
		payload.Recipients = append(payload.Recipients, sendRecipient{
			EmailAddress:    r.Email,
			Personalisation: r.Personalisation,
			AmalgamateKeys:  r.AmalgamateKeys,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/notifications/email", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	result := Result{StatusCode: resp.StatusCode, Class: classify(resp.StatusCode)}
	if result.Delivered() {
		var decoded sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
			result.ProviderID = decoded.ID
		}
	} else {
		// Keep the provider's explanation in the logs; callers only see the class.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.ErrorContext(ctx, "notification provider rejected send",
			"template", template,
			"status", resp.StatusCode,
			"reference", reference,
			"detail", string(detail))
	}
	return result, nil
}

func classify(status int) StatusClass {
	switch {
	case status >= 200 && status < 300:
		return StatusDelivered
	case status >= 400 && status < 500:
		return StatusClientError
	default:
		return StatusServerError
	}
}
