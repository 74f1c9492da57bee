package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", &Error{Code: CodeTokenRevoked, Message: "custom"})

	if !errors.Is(wrapped, ErrTokenRevoked) {
		t.Fatal("expected wrapped error to match ErrTokenRevoked")
	}
	if errors.Is(wrapped, ErrTokenExpired) {
		t.Fatal("revoked must not match expired")
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   Code
		wantCat    Category
	}{
		{"credentials", ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials, CategoryInvalidCredentials},
		{"expired", fmt.Errorf("validate: %w", ErrTokenExpired), http.StatusUnauthorized, CodeTokenExpired, CategoryToken},
		{"mismatch", ErrTenantMismatch, http.StatusForbidden, CodeTenantMismatch, CategoryTenant},
		{"not found", ErrTenantNotFound, http.StatusNotFound, CodeTenantNotFound, CategoryTenant},
		{"already member", ErrAlreadyMember, http.StatusConflict, CodeAlreadyMember, CategoryTenant},
		{"provider", Provider(errors.New("dial tcp: timeout")), http.StatusBadGateway, CodeProviderError, CategoryProvider},
		{"validation", Validation("bad body"), http.StatusBadRequest, CodeInvalidRequest, CategoryValidation},
		{"unclassified", errors.New("pq: connection reset"), http.StatusInternalServerError, CodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Render(tt.err)
			if status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, status)
			}
			if body.Code != tt.wantCode || body.Category != tt.wantCat {
				t.Fatalf("expected %s/%s, got %s/%s", tt.wantCat, tt.wantCode, body.Category, body.Code)
			}
		})
	}
}

func TestRenderHidesCauses(t *testing.T) {
	_, body := Render(Provider(errors.New("secret upstream detail")))
	if body.Error != ErrProvider.Message {
		t.Fatalf("expected generic provider message, got %q", body.Error)
	}

	_, body = Render(errors.New("relation \"persons\" does not exist"))
	if body.Error != "internal server error" {
		t.Fatalf("expected generic internal message, got %q", body.Error)
	}
}
