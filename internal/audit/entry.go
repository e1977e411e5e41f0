// Package audit implements the Audit Pipeline (spec.md §4.4): a
// bounded in-memory queue feeding a batch writer, with recursive
// sensitive-field redaction and a drain-on-shutdown guarantee.
package audit

import (
	"strings"
	"time"
)

// Outcome enumerates the recorded result of an audited action.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeError            Outcome = "error"
	OutcomePermissionDenied Outcome = "permission_denied"
)

// Entry is a single audit record, created ephemerally in memory,
// queued, then persisted in batches.
type Entry struct {
	Timestamp      time.Time
	UserID         string
	Username       string
	UserRoles      []string
	ActionType     string
	Resource       string
	Outcome        Outcome
	IPAddress      string
	UserAgent      string
	CorrelationID  string
	RequestData    map[string]interface{}
	ResponseStatus int
	ErrorMessage   string
	DurationMS     int64
}

// sensitiveFields mirrors the original audit logger's redaction set.
var sensitiveFields = map[string]struct{}{
	"password":               {},
	"passwd":                 {},
	"pwd":                    {},
	"token":                  {},
	"access_token":           {},
	"refresh_token":          {},
	"secret":                 {},
	"api_key":                {},
	"private_key":            {},
	"ssn":                    {},
	"social_security_number": {},
	"credit_card":            {},
	"card_number":            {},
	"cvv":                    {},
	"authorization":          {},
}

const redacted = "[REDACTED]"

// Sanitize recursively redacts any map key matching the sensitive-field
// set (case-insensitive), walking nested maps and list-of-map values.
// A nil input returns nil.
func Sanitize(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}

	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if _, sensitive := sensitiveFields[strings.ToLower(k)]; sensitive {
			out[k] = redacted
			continue
		}

		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = Sanitize(val)
		case []interface{}:
			out[k] = sanitizeList(val)
		default:
			out[k] = v
		}
	}
	return out
}

func sanitizeList(items []interface{}) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out[i] = Sanitize(m)
		} else {
			out[i] = item
		}
	}
	return out
}
