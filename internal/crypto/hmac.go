package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Price feed request headers.
const (
	HeaderFeedKey       = "ZONE-FEED-KEY"
	HeaderFeedTimestamp = "ZONE-FEED-TIMESTAMP"
	HeaderFeedSignature = "ZONE-FEED-SIGNATURE"
)

// FeedAuth holds the shared credentials of a price publisher. Prices written
// through the feed decide keeper settlements, so each write is signed as
// HMAC-SHA256(secret, timestamp+method+path+body).
type FeedAuth struct {
	Key    string
	Secret string
}

// Headers returns the signed headers for a request at the current time.
func (f FeedAuth) Headers(method, path, body string) map[string]string {
	return f.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (f FeedAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderFeedKey:       f.Key,
		HeaderFeedTimestamp: ts,
		HeaderFeedSignature: hmacSHA256Base64([]byte(f.Secret), ts+method+path+body),
	}
}

// Verify checks the feed headers of r against body. The timestamp must be
// within skew of now.
func (f FeedAuth) Verify(h http.Header, method, path string, body []byte, now time.Time, skew time.Duration) error {
	if f.Key == "" || h.Get(HeaderFeedKey) != f.Key {
		return ErrBadFeedRequest
	}
	ts := h.Get(HeaderFeedTimestamp)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadFeedRequest
	}
	at := time.Unix(unix, 0)
	if at.Before(now.Add(-skew)) || at.After(now.Add(skew)) {
		return ErrStaleEnvelope
	}

	want := hmacSHA256Base64([]byte(f.Secret), ts+method+path+string(body))
	if !hmac.Equal([]byte(want), []byte(h.Get(HeaderFeedSignature))) {
		return ErrBadFeedRequest
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (f FeedAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("FeedAuth{key=%s, secret=%s}", redact(f.Key), redact(f.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
