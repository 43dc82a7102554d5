// Package failure classifies harvesting errors so they can be recorded on a
// job and aggregated later from the stored error strings.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	CredentialAcquisition   Kind = "credential_acquisition_failure"
	AuthorizationExpired    Kind = "authorization_expired"
	UpstreamTimeout         Kind = "upstream_timeout"
	MalformedResponse       Kind = "malformed_response"
	UpstreamError           Kind = "upstream_error"
	Persistence             Kind = "persistence_failure"
	RateLimitedResubmission Kind = "rate_limited_resubmission"
	Unknown                 Kind = "unknown"
)

// Kinds lists every category in reporting order.
var Kinds = []Kind{
	CredentialAcquisition,
	AuthorizationExpired,
	UpstreamTimeout,
	MalformedResponse,
	UpstreamError,
	Persistence,
	RateLimitedResubmission,
	Unknown,
}

// Error carries a Kind alongside the operation that failed.
// Its message always starts with the kind so persisted strings stay classifiable.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, falling back
// to Categorize on the message.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout
	}
	return Categorize(err.Error())
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var patterns = []struct {
	kind    Kind
	needles []string
}{
	{CredentialAcquisition, []string{"no token", "credential", "token capture", "playwright"}},
	{AuthorizationExpired, []string{"401", "403", "unauthorized", "forbidden", "authorization"}},
	{UpstreamTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
	{MalformedResponse, []string{"unexpected end of json", "invalid character", "incomplete result set", "cannot unmarshal", "malformed"}},
	{Persistence, []string{"sqlstate", "violates", "connection refused", "pgx", "database"}},
	{RateLimitedResubmission, []string{"too soon", "rate limited", "spacing"}},
	{UpstreamError, []string{"upstream returned", "status 5"}},
}

// Categorize maps an error message back to a Kind. Messages produced by *Error
// are matched on their prefix; anything else is matched on known phrases.
func Categorize(msg string) Kind {
	if msg == "" {
		return ""
	}
	for _, k := range Kinds {
		if strings.HasPrefix(msg, string(k)+":") {
			return k
		}
	}
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.kind
			}
		}
	}
	return Unknown
}

// Counts aggregates messages by category. Empty messages are ignored.
func Counts(messages []string) map[Kind]int {
	out := make(map[Kind]int)
	for _, m := range messages {
		if k := Categorize(m); k != "" {
			out[k]++
		}
	}
	return out
}
