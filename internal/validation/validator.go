// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package validation provides struct validation using go-playground/validator v10.
// It provides a thread-safe singleton validator instance with custom validators
// for StateSync-specific rules.
//
// Custom tags:
//   - backend_kind: one of the supported backend kinds (plex, jellyfin, emby)
//   - backend_name: lowercase letters, digits and underscores
//   - guid_authority: a universal identifier authority name (guid_*)
//
// Example usage:
//
//	type BackendConfig struct {
//	    Name string `validate:"required,backend_name"`
//	    Kind string `validate:"required,backend_kind"`
//	    URL  string `validate:"required,url"`
//	}
//
//	if err := validation.ValidateStruct(&cfg); err != nil {
//	    return fmt.Errorf("invalid backend: %w", err)
//	}
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// BackendKinds lists the backend kinds accepted by the backend_kind tag.
var BackendKinds = []string{"plex", "jellyfin", "emby"}

var (
	backendNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	authorityPattern   = regexp.MustCompile(`^guid_[a-z0-9_]+$`)
)

// ValidationError is one failed field.
type ValidationError struct {
	field   string
	tag     string
	message string
}

// Error returns a human-readable error message.
func (e *ValidationError) Error() string {
	return e.message
}

// RequestValidationError represents a collection of validation errors.
type RequestValidationError struct {
	errors []ValidationError
}

// Error implements the error interface, returning a combined error message.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Error())
	}

	return strings.Join(messages, "; ")
}

// Fields returns field name -> message. Webhook rejections carry it back to
// the sender.
func (ve *RequestValidationError) Fields() map[string]string {
	out := make(map[string]string, len(ve.errors))
	for _, err := range ve.errors {
		out[err.field] = err.message
	}
	return out
}

// instance returns the singleton validator, registering the custom tags on
// first use.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Registration only fails on an empty tag or nil func.
		_ = validate.RegisterValidation("backend_kind", func(fl validator.FieldLevel) bool {
			kind := strings.ToLower(fl.Field().String())
			for _, k := range BackendKinds {
				if k == kind {
					return true
				}
			}
			return false
		})
		_ = validate.RegisterValidation("backend_name", func(fl validator.FieldLevel) bool {
			return backendNamePattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("guid_authority", func(fl validator.FieldLevel) bool {
			return authorityPattern.MatchString(fl.Field().String())
		})
	})

	return validate
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil if validation passes, or *RequestValidationError if validation fails.
//
// The result is typed, so callers must not assign it to an error variable
// before the nil check.
func ValidateStruct(s interface{}) *RequestValidationError {
	v := instance()

	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []ValidationError{
				{
					field:   "unknown",
					tag:     "unknown",
					message: err.Error(),
				},
			},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fieldErr.Namespace(),
			tag:     fieldErr.Tag(),
			message: translateError(fieldErr),
		}
	}

	return &RequestValidationError{errors: fieldErrors}
}

// errorMessageTemplates maps validation tags to message templates.
var errorMessageTemplates = map[string]string{
	"required":       "%s is required",
	"url":            "%s must be a valid URL",
	"hostname_port":  "%s must be a host:port address",
	"backend_kind":   "%s must be one of: " + strings.Join(BackendKinds, " "),
	"backend_name":   "%s may only contain lowercase letters, digits and underscores",
	"guid_authority": "%s must be an identifier authority such as guid_imdb",
}

// errorMessageWithParam maps validation tags to templates that include param.
var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

// translateError converts a validator.FieldError to a human-readable message.
func translateError(fe validator.FieldError) string {
	field := fe.Namespace()
	tag := fe.Tag()
	param := fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}

	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	return translateMinMax(fe, field, tag, param)
}

// translateMinMax handles min/max validation with type-specific messages.
func translateMinMax(fe validator.FieldError, field, tag, param string) string {
	isString := fe.Kind().String() == "string"

	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
