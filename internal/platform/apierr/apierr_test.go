package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOf(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"plain", base, http.StatusInternalServerError, "internal_error"},
		{"not configured", NotConfigured("database_not_configured", base), http.StatusServiceUnavailable, "database_not_configured"},
		{"not found wrapped", fmt.Errorf("load: %w", NotFound("session_not_found", base)), http.StatusNotFound, "session_not_found"},
		{"validation", Validation("invalid_query", base), http.StatusBadRequest, "invalid_query"},
		{"conflict", Conflict("", base), http.StatusConflict, "internal_error"},
	}
	for _, tc := range cases {
		status, code := StatusOf(tc.err)
		if status != tc.wantStatus || code != tc.wantCode {
			t.Fatalf("%s: want=%d/%q got=%d/%q", tc.name, tc.wantStatus, tc.wantCode, status, code)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NotFound("x", base)
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is: want=true got=false")
	}
	if err.Error() != "boom" {
		t.Fatalf("Error(): want=%q got=%q", "boom", err.Error())
	}
}
