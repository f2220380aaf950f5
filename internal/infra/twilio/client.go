package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://api.twilio.com"

type Client struct {
	AccountSID string
	AuthToken  string
	HTTP       *http.Client

	MessagingServiceSID string
	FromNumber          string
	BaseURL             string
}

type SendRequest struct {
	To                string
	Body              string
	StatusCallbackURL string
}

type SendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

// CallError is a failed Messages API call.
type CallError struct {
	HTTPStatus int
	Err        error
}

func (e *CallError) Error() string {
	if e.HTTPStatus == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("twilio: %d: %v", e.HTTPStatus, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether a later attempt may succeed.
func (e *CallError) Transient() bool {
	return ShouldRetry(e.Err, e.HTTPStatus)
}

func (c *Client) SendSMS(ctx context.Context, req SendRequest) (SendResponse, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("Body", req.Body)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}
	if c.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", c.MessagingServiceSID)
	} else {
		form.Set("From", c.FromNumber)
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	endpoint := baseURL + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResponse{}, &CallError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, &CallError{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	// Twilio returns 201 for created; treat 2xx as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = "twilio send failed"
		}
		return out, &CallError{HTTPStatus: resp.StatusCode, Err: errors.New(msg)}
	}
	return out, nil
}

// Name is the backend name outgoing messages are routed by.
func (c *Client) Name() string { return "twilio" }

// Send delivers text to a phone number and returns the Twilio message SID.
func (c *Client) Send(ctx context.Context, identity, text string) (string, error) {
	resp, err := c.SendSMS(ctx, SendRequest{To: identity, Body: text})
	if err != nil {
		return "", err
	}
	return resp.Sid, nil
}

// ShouldRetry classifies transient failures.
func ShouldRetry(err error, httpStatus int) bool {
	if httpStatus == 0 && err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		return false
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus == http.StatusRequestTimeout {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}
