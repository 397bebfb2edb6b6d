// Package signature implements the HMAC scheme used on outbound webhook
// deliveries and for verifying inbound provider webhooks signed the same way.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tolerance is the maximum accepted age of a signed timestamp at
// verification time. Older signatures are rejected to prevent replay of
// captured requests.
const Tolerance = 10 * time.Minute

const schemeVersion = "v1"

// Sign produces the signature header value for a payload:
// t=<unix>,v1=<hex hmac-sha256 of "<unix>.<body>">.
func Sign(secret string, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,%s=%s", unix, schemeVersion, compute(secret, unix, body))
}

// Verify checks a received signature header against the body using the
// shared secret. It fails closed: malformed headers, stale timestamps, and
// mismatched digests all return false, never an error.
func Verify(header, secret string, body []byte) bool {
	return VerifyAt(header, secret, body, time.Now())
}

// VerifyAt is Verify with an injectable clock.
func VerifyAt(header, secret string, body []byte, now time.Time) bool {
	unix, received, ok := parseHeader(header)
	if !ok {
		// Still burn one HMAC so malformed headers are not distinguishable
		// from mismatches by timing.
		_ = compute(secret, 0, body)
		return false
	}

	expected := compute(secret, unix, body)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return false
	}

	age := now.Sub(time.Unix(unix, 0))
	if age > Tolerance || age < -Tolerance {
		return false
	}
	return true
}

func compute(secret string, unix int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseHeader(header string) (unix int64, sig string, ok bool) {
	var haveTS, haveSig bool

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", false
			}
			unix = parsed
			haveTS = true
		case schemeVersion:
			sig = value
			haveSig = true
		}
	}

	if !haveTS || !haveSig || sig == "" {
		return 0, "", false
	}
	return unix, sig, true
}
