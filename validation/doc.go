// Package validation checks configuration structs via go-playground/validator
// tags and request arguments via a small fluent Validator. Both report
// failures as INVALID_INPUT AppErrors carrying per-field details.
package validation
