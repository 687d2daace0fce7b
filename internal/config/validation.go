package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the configuration for values no flow could run with.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		errs.Add("callback.port", "must be between 0 and 65535", c.Callback.Port)
	}
	if c.Callback.Path != "" && !strings.HasPrefix(c.Callback.Path, "/") {
		errs.Add("callback.path", "must be an absolute path", c.Callback.Path)
	}
	if strings.ContainsAny(c.Callback.Host, "/ ") {
		errs.Add("callback.host", "must be a bare host name or address", c.Callback.Host)
	}
	if c.RedirectTimeout < 0 {
		errs.Add("redirectTimeout", "must not be negative", c.RedirectTimeout.String())
	}
	if c.Client.ClientSecret != "" && c.Client.ClientID == "" {
		errs.Add("client.clientSecret", "requires client.clientId")
	}
	if c.Resource != "" {
		if u, err := url.Parse(c.Resource); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("resource", "must be an absolute URL", c.Resource)
		}
	}
	for i, scope := range c.Scopes {
		if strings.TrimSpace(scope) == "" || strings.ContainsAny(scope, " \t") {
			errs.Add(fmt.Sprintf("scopes[%d]", i), "must be a single non-empty scope", scope)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
