package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateSubscription checks a subscription for constraint violations. It
// returns a *ValidationError if any rules fail, or nil if s is valid.
func ValidateSubscription(s *WebhookSubscription) error {
	var ve ValidationError

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			ve.add(fieldName(fe), tagMessage(fe))
		}
	}

	// The validator accepts any scheme; deliveries need absolute http(s).
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			if !hasField(ve.Errors, "url") {
				ve.add("url", "must be an absolute http or https URL")
			}
		}
	}

	for i, t := range s.EventFilter {
		if t != "" && !t.IsValid() {
			ve.add(fmt.Sprintf("event_filter[%d]", i), fmt.Sprintf("unknown event type %q", t))
		}
	}

	switch a := s.Auth.(type) {
	case nil, NoAuth:
	case HeaderAuth:
		if a.HeaderValue == "" {
			ve.add("auth.header_value", "is required")
		}
	case BasicAuth:
		if a.Username == "" {
			ve.add("auth.username", "is required")
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateEvent checks an event before it is appended to the outbox.
func ValidateEvent(e *Event) error {
	var ve ValidationError

	if !e.EventType.IsValid() {
		ve.add("event_type", fmt.Sprintf("unknown event type %q", e.EventType))
	}
	if e.Version < 1 {
		ve.add("version", "must be at least 1")
	}
	if len(e.Data) == 0 || !json.Valid(e.Data) {
		ve.add("data", "must be valid JSON")
	}

	// Provenance is all-or-nothing.
	n := 0
	for _, set := range []bool{e.ChainID != nil, e.BlockNumber != nil, e.LogIndex != nil, e.TxHash != ""} {
		if set {
			n++
		}
	}
	if n != 0 && n != 4 {
		ve.add("provenance", "chain_id, block_number, log_index and tx_hash must be set together")
	}
	if n == 0 && e.EntityID == "" && e.UID == "" {
		ve.add("entity_id", "is required for events without chain provenance")
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be " + fe.Param() + " characters or fewer"
	case "url":
		return "must be an absolute http or https URL"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func hasField(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}
