package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func identityRouter(t *testing.T) (*gin.Engine, *string, *bool) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var gotID string
	var gotVIP bool
	r := gin.New()
	r.Use(Identity())
	r.GET("/whoami", func(c *gin.Context) {
		gotID = AnonIDFrom(c)
		gotVIP = IsVIP(c)
		c.Status(http.StatusNoContent)
	})
	return r, &gotID, &gotVIP
}

func TestIdentity_StashesValidID(t *testing.T) {
	r, gotID, gotVIP := identityRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderAnonID, "anon-abc.123")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if *gotID != "anon-abc.123" {
		t.Fatalf("AnonIDFrom = %q", *gotID)
	}
	if *gotVIP {
		t.Fatalf("IsVIP should be false without header")
	}
}

func TestIdentity_MissingIDIsNoOp(t *testing.T) {
	r, gotID, _ := identityRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if *gotID != "" {
		t.Fatalf("expected empty identity, got %q", *gotID)
	}
}

func TestIdentity_RejectsMalformedID(t *testing.T) {
	r, _, _ := identityRouter(t)

	for _, bad := range []string{
		"has spaces",
		"semi;colon",
		strings.Repeat("x", maxAnonIDLen+1),
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderAnonID, bad)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("id %q: status = %d, want 400", bad, w.Code)
		}
	}
}

func TestIdentity_VIPFlag(t *testing.T) {
	r, _, gotVIP := identityRouter(t)

	for _, v := range []string{"1", "true", "YES"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderAnonID, "anon-1")
		req.Header.Set(HeaderAnonVIP, v)
		r.ServeHTTP(w, req)
		if !*gotVIP {
			t.Fatalf("IsVIP should be true for %q", v)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderAnonID, "anon-1")
	req.Header.Set(HeaderAnonVIP, "nope")
	r.ServeHTTP(w, req)
	if *gotVIP {
		t.Fatalf("IsVIP should be false for unrecognized value")
	}
}

func TestMaskAnonID(t *testing.T) {
	if MaskAnonID("") != "" {
		t.Fatalf("empty id should stay empty")
	}
	if got := MaskAnonID("short"); got != "s***" {
		t.Fatalf("short mask = %q", got)
	}
	if got := MaskAnonID("anon-1234567890"); got != "anon-123***" {
		t.Fatalf("long mask = %q", got)
	}
}
