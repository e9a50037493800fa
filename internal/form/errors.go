package form

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrFieldValidation matches any *FieldErrors via errors.Is
var ErrFieldValidation = errors.New("field validation failed")

// FieldError holds the messages for one form field
type FieldError struct {
	Field    string   `json:"field"`
	Messages []string `json:"messages"`
}

// FieldErrors maps field names to messages, preserving the order in which
// fields were first reported so forms can re-render top to bottom.
type FieldErrors struct {
	fields []FieldError
}

// Add appends msg to field, creating the field entry on first use
func (e *FieldErrors) Add(field, msg string) {
	for i := range e.fields {
		if e.fields[i].Field == field {
			e.fields[i].Messages = append(e.fields[i].Messages, msg)
			return
		}
	}
	e.fields = append(e.fields, FieldError{Field: field, Messages: []string{msg}})
}

// Fields returns the entries in report order
func (e *FieldErrors) Fields() []FieldError {
	out := make([]FieldError, len(e.fields))
	copy(out, e.fields)
	return out
}

// Messages returns the messages for one field, or nil
func (e *FieldErrors) Messages(field string) []string {
	for _, f := range e.fields {
		if f.Field == field {
			return f.Messages
		}
	}
	return nil
}

func (e *FieldErrors) Len() int {
	return len(e.fields)
}

func (e *FieldErrors) Error() string {
	parts := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		parts = append(parts, f.Field+": "+strings.Join(f.Messages, "; "))
	}
	return ErrFieldValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *FieldErrors) Is(target error) bool {
	return target == ErrFieldValidation
}

func (e *FieldErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields)
}

// orNil keeps a typed-nil *FieldErrors from escaping as a non-nil error
func (e *FieldErrors) orNil() error {
	if e == nil || len(e.fields) == 0 {
		return nil
	}
	return e
}
