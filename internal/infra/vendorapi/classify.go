package vendor

import (
	"strings"

	"telegram-image-gen/internal/domain/ports/adapter"
)

// Envelope is the vendor's common response wrapper.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

// Text returns whichever message field the vendor populated.
func (e Envelope) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

// rateLimitPhrases are the known free-text spellings the vendor uses when an
// HTTP 200 response is actually a throttle. This is a heuristic, not a
// contract; extend the list as new phrasings show up in logs.
var rateLimitPhrases = []string{
	"frequency is too high",
	"try again later",
	"rate limit",
	"too many requests",
	"call frequency",
}

// upstreamFingerprints mark 5xx bodies produced by the vendor's edge rather
// than its application; those get a longer wait before retrying.
var upstreamFingerprints = []string{
	"cloudflare",
	"kie.ai",
}

// Classify maps an HTTP status plus parsed body onto the error taxonomy.
// It is deliberately separate from the retry loop so the substring heuristics
// can be tested and extended on their own.
func Classify(status int, env Envelope, body string) adapter.ErrorKind {
	if status == 429 {
		return adapter.ErrKindRateLimited
	}
	if status == 200 && IsSoftRateLimit(env) {
		return adapter.ErrKindRateLimited
	}
	if status >= 500 && status < 600 {
		return adapter.ErrKindServerUnavailable
	}
	if status != 200 || env.Code != 200 {
		return adapter.ErrKindBadRequest
	}
	return adapter.ErrKindUnknown
}

// IsSoftRateLimit reports whether an HTTP 200 body carries rate-limit
// phrasing and should be retried like a 429.
func IsSoftRateLimit(env Envelope) bool {
	msg := strings.ToLower(env.Text())
	if msg == "" {
		return false
	}
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// IsUpstreamEdgeError reports whether a 5xx body matches the known
// upstream-gateway fingerprint.
func IsUpstreamEdgeError(body string) bool {
	b := strings.ToLower(body)
	for _, fp := range upstreamFingerprints {
		if strings.Contains(b, fp) {
			return true
		}
	}
	return false
}
