// Package payment talks to the external payment-link provider and
// verifies the signatures on its asynchronous notifications.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// ErrInvalidSignature is returned when a webhook payload's signature does
// not match the shared secret. No state change may follow it.
var ErrInvalidSignature = errors.New("invalid signature")

// SignParamKey is the parameter that carries the signature itself and is
// therefore excluded from the canonical serialization.
const SignParamKey = "sign"

// Sign computes the hex HMAC-SHA256 of the canonical serialization of
// params under the shared secret. The canonical form sorts parameters by
// key and joins them as key=value with "&", so the result is independent
// of the order the provider happens to send fields in. The sign parameter
// itself and empty values are skipped, matching the provider's contract.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == SignParamKey || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the sign parameter of a payload against the shared
// secret. It returns ErrInvalidSignature on mismatch or when the sign
// parameter is absent. Comparison is constant-time.
func Verify(params map[string]string, secret string) error {
	got := params[SignParamKey]
	if got == "" {
		return ErrInvalidSignature
	}
	want := Sign(params, secret)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}
