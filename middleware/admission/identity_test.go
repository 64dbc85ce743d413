package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"admission-gateway/middleware/admission/domain"
)

func TestDefaultIdentityFunc_PrefersAuthenticatedUserFromContext(t *testing.T) {
	fn := DefaultIdentityFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r = r.WithContext(WithUserID(r.Context(), "u-42"))

	got := fn(r)
	if got.Kind != domain.IdentityUser || got.Value != "u-42" {
		t.Fatalf("expected user identity, got %+v", got)
	}
}

func TestDefaultIdentityFunc_UserHeaderWhenConfigured(t *testing.T) {
	fn := DefaultIdentityFunc("X-User-Id", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-User-Id", " u-7 ")

	got := fn(r)
	if got.Kind != domain.IdentityUser || got.Value != "u-7" {
		t.Fatalf("expected trimmed header identity, got %+v", got)
	}
}

func TestDefaultIdentityFunc_TrustedXFFUsesFirstHop(t *testing.T) {
	fn := DefaultIdentityFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.9")

	got := fn(r)
	if got.Kind != domain.IdentityAddress || got.Value != "198.51.100.7" {
		t.Fatalf("expected first XFF hop, got %+v", got)
	}
}

func TestDefaultIdentityFunc_UntrustedXFFIsIgnored(t *testing.T) {
	fn := DefaultIdentityFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")

	if got := fn(r); got.Value != "10.0.0.9" {
		t.Fatalf("expected remote host, got %+v", got)
	}
}

func TestDefaultIdentityFunc_RemoteAddrWithoutPort(t *testing.T) {
	fn := DefaultIdentityFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9"

	if got := fn(r); got.Value != "10.0.0.9" {
		t.Fatalf("expected bare remote addr, got %+v", got)
	}
}

func TestDefaultIdentityFunc_AddresslessFallsBackToConstant(t *testing.T) {
	fn := DefaultIdentityFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = ""

	if got := fn(r); got != domain.FallbackIdentity {
		t.Fatalf("expected fallback identity, got %+v", got)
	}
}
