package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mcdev12/minority/go/internal/models"
)

func fixedNow() time.Time {
	return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier("secret", fixedNow)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	other, _ := NewVerifier("other-secret", fixedNow)

	valid, _ := v.Issue(models.Identity{Email: "Alice@Example.com", IsAdmin: true}, time.Hour)
	expired, _ := v.Issue(models.Identity{Email: "bob@example.com"}, -time.Minute)
	forged, _ := other.Issue(models.Identity{Email: "eve@example.com", IsAdmin: true}, time.Hour)
	noEmail, _ := v.Issue(models.Identity{}, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "x@example.com"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		want    models.Identity
		wantErr error
	}{
		{name: "valid admin", token: valid, want: models.Identity{Email: "alice@example.com", IsAdmin: true}},
		{name: "missing", token: "  ", wantErr: ErrMissingToken},
		{name: "expired", token: expired, wantErr: ErrInvalidToken},
		{name: "wrong secret", token: forged, wantErr: ErrInvalidToken},
		{name: "no email", token: noEmail, wantErr: ErrInvalidToken},
		{name: "alg none", token: none, wantErr: ErrInvalidToken},
		{name: "garbage", token: "not.a.token", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	v, _ := NewVerifier("secret", fixedNow)
	token, _ := v.Issue(models.Identity{Email: "p@example.com", IsDisplay: true}, time.Hour)

	var seen models.Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}
	if seen.Email != "p@example.com" || !seen.IsDisplay {
		t.Errorf("Unexpected identity %+v", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/room?token="+token, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with query token, got %d", rec.Code)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(" ", nil); err == nil {
		t.Error("Expected error for empty secret")
	}
}
