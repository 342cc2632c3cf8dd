package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks a webhook signature against the raw request body.
// The expected value is the hex HMAC-SHA256 of the body under the shared
// secret. Some provider configurations prefix the header with the algorithm
// ("sha256=<hex>"); only the part after the last "=" is compared. The
// comparison is constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}

	parts := strings.Split(header, "=")
	provided := parts[len(parts)-1]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}
