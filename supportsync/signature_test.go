package supportsync

import (
	"net/http"
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"message_created","id":1}`)
	secret := "whsec"
	digest := Sign(body, secret)

	cases := []struct {
		name   string
		body   []byte
		header string
		secret string
		want   bool
	}{
		{"bare digest", body, digest, secret, true},
		{"scheme prefix", body, "sha256=" + digest, secret, true},
		{"uppercase digest", body, strings.ToUpper(digest), secret, true},
		{"tampered body", []byte(`{"event":"message_created","id":2}`), digest, secret, false},
		{"wrong secret", body, digest, "other", false},
		{"missing header", body, "", secret, false},
		{"empty secret", body, digest, "", false},
		{"not hex", body, "sha256=zz", secret, false},
		{"short digest", body, digest[:20], secret, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifySignature(tc.body, tc.header, tc.secret); got != tc.want {
				t.Fatalf("VerifySignature = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSignatureFromHeaders(t *testing.T) {
	h := http.Header{}
	if got := SignatureFromHeaders(h); got != "" {
		t.Fatalf("empty headers: got %q", got)
	}
	h.Set("X-Hub-Signature-256", "sha256=abc")
	if got := SignatureFromHeaders(h); got != "sha256=abc" {
		t.Fatalf("fallback header: got %q", got)
	}
	h.Set("X-Chatwoot-Signature", " def ")
	if got := SignatureFromHeaders(h); got != "def" {
		t.Fatalf("preferred header: got %q", got)
	}
}
