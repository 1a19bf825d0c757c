package supportsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Signature headers in lookup order.
var signatureHeaders = []string{
	"X-Chatwoot-Signature",
	"X-Hub-Signature-256",
	"X-Signature",
}

// SignatureFromHeaders returns the first non-empty signature header value.
func SignatureFromHeaders(h http.Header) string {
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Sign returns the hex HMAC-SHA256 digest of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of the raw body.
// The header may be a bare hex digest or "scheme=digest". An empty secret or
// header never verifies; callers decide whether verification is required.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	digest := strings.TrimSpace(header)
	if i := strings.IndexByte(digest, '='); i >= 0 {
		digest = strings.TrimSpace(digest[i+1:])
	}
	if digest == "" {
		return false
	}
	declared, err := hex.DecodeString(strings.ToLower(digest))
	if err != nil || len(declared) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(declared, mac.Sum(nil))
}
