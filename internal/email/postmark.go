package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

// Sender delivers password reset codes.
type Sender interface {
	SendResetCode(ctx context.Context, toEmail, code string) error
}

type Client struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      defaultAPIURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendResetCode emails a password reset code.
func (c *Client) SendResetCode(ctx context.Context, toEmail, code string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	minutes := 10
	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Password Reset Code for Vitisco",
		TextBody: fmt.Sprintf("Your verification code is: %s. This code will expire in %d minutes.", code, minutes),
		HtmlBody: fmt.Sprintf(
			`<p>Your verification code is: <strong>%s</strong></p><p>This code will expire in %d minutes.</p>`,
			code, minutes,
		),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

// LogSender writes reset codes to the log instead of sending them. It
// stands in for Client when no Postmark token is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendResetCode(_ context.Context, toEmail, code string) error {
	s.Logger.Warn("email not configured, reset code logged", "email", toEmail, "code", code)
	return nil
}
