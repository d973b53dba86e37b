package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	defaultSendTimeout   = 10 * time.Second
)

// twilioMessageResponse is the subset of the Messages API response we consume.
type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TwilioProvider sends messages through the Twilio Messages API.
// Credentials are fixed at construction; the status callback URL travels with
// each message so the provider posts delivery updates back to the receiver.
type TwilioProvider struct {
	client     *resty.Client
	accountSID string
}

func NewTwilioProvider(accountSID, authToken string) (*TwilioProvider, error) {
	client := resty.New()
	client.SetBaseURL(defaultTwilioBaseURL)
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewTwilioProviderWithClient(accountSID, authToken, client)
}

// NewTwilioProviderWithClient accepts a prepared resty client so tests can
// point the provider at an httptest server and tune timeouts.
func NewTwilioProviderWithClient(accountSID, authToken string, client *resty.Client) (*TwilioProvider, error) {
	accountSID = strings.TrimSpace(accountSID)
	if accountSID == "" {
		return nil, fmt.Errorf("twilio account SID is required")
	}
	if strings.TrimSpace(authToken) == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.BaseURL == "" {
		client.SetBaseURL(defaultTwilioBaseURL)
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)
	client.SetBasicAuth(accountSID, authToken)

	return &TwilioProvider{
		client:     client,
		accountSID: accountSID,
	}, nil
}

func (p *TwilioProvider) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("recipient number is required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, fmt.Errorf("message body is required")
	}

	form := map[string]string{
		"To":   msg.To,
		"From": msg.From,
		"Body": msg.Body,
	}
	if callback := strings.TrimSpace(msg.StatusCallback); callback != "" {
		form["StatusCallback"] = callback
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", p.accountSID))
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := response.Body()

	var parsed twilioMessageResponse
	_ = json.Unmarshal(body, &parsed)

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if strings.TrimSpace(parsed.SID) == "" {
			return nil, &ProviderError{
				StatusCode: statusCode,
				Message:    "provider response is missing message sid",
				Transient:  false,
			}
		}
		return &SendResult{
			MessageSID: parsed.SID,
			StatusCode: statusCode,
			Status:     parsed.Status,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Code:       parsed.Code,
		Message:    twilioErrorMessage(statusCode, parsed),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func twilioErrorMessage(statusCode int, parsed twilioMessageResponse) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if msg := strings.TrimSpace(parsed.Message); msg != "" {
		return fmt.Sprintf("%s: %s", base, msg)
	}
	return base
}
