package email

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient("test-token", "noreply@example.com", "https://swapmeet.test/reset-password",
		WithHTTPClient(&http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}))
}

func TestSendOTP(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	})

	if err := client.SendOTP("alice@example.com", "482113", 5*time.Minute); err != nil {
		t.Fatalf("send otp: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if !strings.Contains(received.TextBody, "482113") {
		t.Errorf("TextBody = %q, want code", received.TextBody)
	}
	if !strings.Contains(received.TextBody, "5 minutes") {
		t.Errorf("TextBody = %q, want expiry", received.TextBody)
	}
}

func TestSendPasswordReset(t *testing.T) {
	var received postmarkEmail

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	})

	if err := client.SendPasswordReset("bob@example.com", "sel123", "tok456", time.Hour); err != nil {
		t.Fatalf("send reset: %v", err)
	}

	if received.Subject != "Reset your Swapmeet password" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "https://swapmeet.test/reset-password?selector=sel123&token=tok456") {
		t.Errorf("TextBody = %q, want reset link", received.TextBody)
	}
}

func TestResetLink(t *testing.T) {
	client := NewClient("token", "from@test.com", "https://swapmeet.test/reset")

	u, err := url.Parse(client.ResetLink("a b", "c&d"))
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if got := u.Query().Get("selector"); got != "a b" {
		t.Errorf("selector = %q, want %q", got, "a b")
	}
	if got := u.Query().Get("token"); got != "c&d" {
		t.Errorf("token = %q, want %q", got, "c&d")
	}
}

func TestSendPasswordChanged(t *testing.T) {
	var received postmarkEmail

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	})

	if err := client.SendPasswordChanged("bob@example.com"); err != nil {
		t.Fatalf("send password changed: %v", err)
	}
	if received.Subject != "Your Swapmeet password was changed" {
		t.Errorf("Subject = %q", received.Subject)
	}
}

func TestSendAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	if err := client.SendOTP("alice@example.com", "123456", 5*time.Minute); err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://swapmeet.test/reset")

	if err := client.SendOTP("alice@example.com", "123456", 5*time.Minute); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestConfigured(t *testing.T) {
	c1 := NewClient("token", "from@test.com", "https://test.com")
	if !c1.Configured() {
		t.Error("expected Configured() = true")
	}

	c2 := NewClient("", "from@test.com", "https://test.com")
	if c2.Configured() {
		t.Error("expected Configured() = false")
	}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
