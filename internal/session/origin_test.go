package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginAllowed(t *testing.T) {
	if !originAllowed(requestWithOrigin("https://evil.example"), nil) {
		t.Fatalf("empty allow list must admit every origin")
	}

	allowed := []string{"https://palava.tv"}
	cases := []struct {
		origin string
		want   bool
	}{
		{"https://palava.tv", true},
		{"HTTPS://PALAVA.TV", true},
		{"https://palava.tv:443", true},
		{"https://evil.example", false},
		{"http://palava.tv", false},
		{"null", false},
		{"", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		if got := originAllowed(requestWithOrigin(tc.origin), allowed); got != tc.want {
			t.Fatalf("origin %q: got %v want %v", tc.origin, got, tc.want)
		}
	}

	if !originAllowed(requestWithOrigin("https://evil.example"), []string{"*"}) {
		t.Fatalf("wildcard entry must admit every origin")
	}
}

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Palava.TV", "https://palava.tv"},
		{"http://localhost:4233", "http://localhost:4233"},
		{"http://localhost:80", "http://localhost"},
		{"ftp://palava.tv", ""},
		{"null", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := normalizeOrigin(tc.in); got != tc.want {
			t.Fatalf("normalizeOrigin(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
}
