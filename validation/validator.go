package validation

import (
	"fmt"
	"strings"

	"github.com/kbukum/meshprobe/errors"
)

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator collects argument checks and reports them as one INVALID_INPUT
// error listing every failed field.
//
//	err := validation.New().
//	    NotEmpty("agents", len(agents)).
//	    NoBlank("names", names).
//	    Validate()
type Validator struct {
	errors []FieldError
}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

// Validate returns nil when every check passed. The result is a plain
// error so a nil result compares equal to nil.
func (v *Validator) Validate() error {
	if !v.HasErrors() {
		return nil
	}
	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = e.Field + ": " + e.Message
	}
	return errors.Validation(strings.Join(messages, "; ")).WithDetail("fields", v.errors)
}

// Required fails on a blank string.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// NotEmpty fails on a zero-length collection.
func (v *Validator) NotEmpty(field string, n int) *Validator {
	if n == 0 {
		v.AddError(field, "must not be empty")
	}
	return v
}

// NoBlank fails once per blank element, naming its index.
func (v *Validator) NoBlank(field string, values []string) *Validator {
	for i, s := range values {
		if strings.TrimSpace(s) == "" {
			v.AddError(fmt.Sprintf("%s[%d]", field, i), "must not be blank")
		}
	}
	return v
}

// NotNil fails when a required dependency is missing.
func (v *Validator) NotNil(field string, present bool) *Validator {
	if !present {
		v.AddError(field, "is required")
	}
	return v
}
