package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken  string
	fromEmail    string
	resetLinkURL string
	httpClient   *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient returns a Postmark client. resetLinkURL is the page that accepts
// a password reset; selector and token are appended as query parameters.
func NewClient(serverToken, fromEmail, resetLinkURL string, opts ...Option) *Client {
	c := &Client{
		serverToken:  serverToken,
		fromEmail:    fromEmail,
		resetLinkURL: resetLinkURL,
		httpClient:   http.DefaultClient,
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

// SendOTP sends the email verification code.
func (c *Client) SendOTP(toEmail, code string, ttl time.Duration) error {
	minutes := int(ttl.Minutes())
	textBody := fmt.Sprintf("Your Swapmeet verification code is %s.\n\nIt expires in %d minutes.", code, minutes)
	htmlBody := fmt.Sprintf(
		`<p>Your Swapmeet verification code is:</p><p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p><p>It expires in %d minutes.</p>`,
		code, minutes,
	)
	return c.send(toEmail, "Your Swapmeet verification code", textBody, htmlBody)
}

// SendPasswordReset sends a link carrying the reset selector and token.
func (c *Client) SendPasswordReset(toEmail, selector, token string, ttl time.Duration) error {
	link := c.ResetLink(selector, token)
	minutes := int(ttl.Minutes())
	textBody := fmt.Sprintf(
		"Someone asked to reset your Swapmeet password. Open the link below to choose a new one:\n\n%s\n\nThis link expires in %d minutes. If you did not ask for this, ignore this email.",
		link, minutes,
	)
	htmlBody := fmt.Sprintf(
		`<p>Someone asked to reset your Swapmeet password.</p><p><a href="%s">Choose a new password</a></p><p>This link expires in %d minutes. If you did not ask for this, ignore this email.</p>`,
		link, minutes,
	)
	return c.send(toEmail, "Reset your Swapmeet password", textBody, htmlBody)
}

// SendPasswordChanged confirms a completed password reset.
func (c *Client) SendPasswordChanged(toEmail string) error {
	textBody := "Your Swapmeet password was just changed and all sessions were signed out. If this was not you, reset your password immediately."
	htmlBody := "<p>Your Swapmeet password was just changed and all sessions were signed out.</p><p>If this was not you, reset your password immediately.</p>"
	return c.send(toEmail, "Your Swapmeet password was changed", textBody, htmlBody)
}

// ResetLink builds the URL mailed for a password reset.
func (c *Client) ResetLink(selector, token string) string {
	q := url.Values{}
	q.Set("selector", selector)
	q.Set("token", token)
	return c.resetLinkURL + "?" + q.Encode()
}

func (c *Client) send(toEmail, subject, textBody, htmlBody string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", postmarkURL, bytes.NewReader(body))
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
