package okxapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp returns the current UTC time formatted as OKX expects for REST
// signing: RFC-3339 with millisecond precision.
func Timestamp(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05.000Z")
}

// WSTimestamp returns the current time formatted as OKX's WebSocket login
// handshake expects: "<epoch_seconds>.<milliseconds>" with the fraction
// zero-padded to three digits.
func WSTimestamp(now time.Time) string {
	ms := now.UnixMilli()
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// Sign computes base64(HMAC_SHA256(secret, timestamp+method+requestPath+body)).
// requestPath must already include the query string. body is empty for GET
// requests and the WebSocket login frame.
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte(requestPath))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WSLoginSign signs the WebSocket login handshake payload, which always
// uses GET /users/self/verify with an empty body.
func WSLoginSign(secret, timestamp string) string {
	return Sign(secret, timestamp, "GET", "/users/self/verify", "")
}

// FormatLeverage formats a leverage value with up to 4 decimal places,
// trimming trailing zeros and a trailing decimal point, matching the wire
// format OKX expects for the `lever` field.
func FormatLeverage(lever float64) string {
	s := strconv.FormatFloat(lever, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// FormatFloat renders a float the way OKX's JSON fields expect: no
// scientific notation, no unnecessary trailing zeros.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SanitizeTag filters a free-form order tag down to ASCII alphanumerics and
// truncates it to 16 characters; an empty result is reported via the bool.
func SanitizeTag(tag string) (string, bool) {
	var b strings.Builder
	for _, r := range tag {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= 16 {
				break
			}
		}
	}
	out := b.String()
	return out, out != ""
}
