package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/swapmeet/internal/apperr"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("x"), http.StatusNotFound},
		{apperr.Authorization("x"), http.StatusForbidden},
		{apperr.InvalidState("x"), http.StatusConflict},
		{apperr.Conflict("x"), http.StatusConflict},
		{apperr.Cooldown(time.Second), http.StatusTooManyRequests},
		{apperr.Expired("x"), http.StatusGone},
		{apperr.AlreadyUsed("x"), http.StatusConflict},
		{apperr.AttemptsExceeded("x"), http.StatusTooManyRequests},
		{apperr.InvalidSecret("x"), http.StatusBadRequest},
		{apperr.Validation("x"), http.StatusBadRequest},
		{apperr.Internal(errors.New("db down")), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, slog.Default(), tt.err)
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, slog.Default(), apperr.Internal(errors.New("disk I/O error at sector 7")))

	if strings.Contains(rec.Body.String(), "sector") {
		t.Errorf("body leaked cause: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "internal error") {
		t.Errorf("body = %s, want generic message", rec.Body.String())
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, slog.Default(), apperr.Cooldown(41500*time.Millisecond))

	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want %q", got, "42")
	}
}

func TestValidEmail(t *testing.T) {
	for _, s := range []string{"a@b.co", "alice@example.com"} {
		if !validEmail(s) {
			t.Errorf("validEmail(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "alice", "@example.com", "alice@", "al ice@example.com"} {
		if validEmail(s) {
			t.Errorf("validEmail(%q) = true, want false", s)
		}
	}
}
