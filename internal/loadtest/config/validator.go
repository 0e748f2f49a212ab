package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the configuration after defaults have been applied.
//
// Returns nil if valid, or a *ValidationErrors listing every problem.
func (c *LoadTestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateURL(c.URL, errs)

	switch c.Method {
	case MethodGet, MethodPost:
	case MethodUnset:
		errs.Add("method", "method is required")
	default:
		errs.Add("method", fmt.Sprintf("unsupported method: %d", int(c.Method)))
	}

	if c.Concurrency < 1 {
		errs.Add("concurrency", "concurrency must be at least 1")
	}
	if c.Workers < 0 {
		errs.Add("workers", "workers cannot be negative")
	}

	if c.Duration.Std() < time.Second {
		errs.Add("duration", "duration must be at least 1s")
	} else if c.Duration.Std()%time.Second != 0 {
		errs.Add("duration", fmt.Sprintf("duration must be whole seconds, got %s", c.Duration))
	}

	if c.Delay < 0 {
		errs.Add("delay", "delay cannot be negative")
	}
	if c.Rate < 0 {
		errs.Add("rate", "rate cannot be negative")
	}
	if c.Timeout < 0 {
		errs.Add("timeout", "timeout cannot be negative")
	}

	switch c.Redirect.Mode {
	case RedirectDefault, RedirectNone:
	case RedirectLimit:
		if c.Redirect.Limit < 1 {
			errs.Add("redirect", "redirect limit must be at least 1")
		}
	default:
		errs.Add("redirect", "unknown redirect mode")
	}

	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			errs.Add("headers", "header names cannot be empty")
			break
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("url", "url is required")
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("url", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("url", fmt.Sprintf("unsupported scheme %q (want http or https)", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("url", "url must include a host")
	}
}
