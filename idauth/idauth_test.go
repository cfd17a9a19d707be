package idauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func tokenServer(t *testing.T, sub string, fail bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("test-signing-key"))
		if err != nil {
			t.Fatalf("sign test token: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + signed + `","token_type":"bearer"}`))
	}))
}

func TestMintExtractsSubjectClaim(t *testing.T) {
	srv := tokenServer(t, "user-42", false)
	defer srv.Close()

	a := New("client", "secret", srv.URL, nil)
	id, err := a.Mint(context.Background(), "envelope")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if id != "envelope:user-42" {
		t.Errorf("Mint = %q, want envelope:user-42", id)
	}
}

func TestMintTokenEndpointFailureThrottlesSubsequentCalls(t *testing.T) {
	srv := tokenServer(t, "", true)
	defer srv.Close()

	a := New("client", "secret", srv.URL, nil)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		if _, err := a.Mint(ctx, "envelope"); err == nil {
			t.Fatal("want an error from a failing token endpoint")
		}
	}
	// The 11th call's failure should have been recorded; the throttle's
	// own package test covers the sleep-vs-no-sleep boundary directly, so
	// this only confirms Mint keeps recording failures instead of panicking
	// or wedging after repeated errors.
}

func TestAllowAnonymousAuthorityNeverFails(t *testing.T) {
	var a AllowAnonymousAuthority
	id, err := a.Mint(context.Background(), "envelope")
	if err != nil || id != "" {
		t.Errorf("Mint = (%q, %v), want (\"\", nil)", id, err)
	}
}
