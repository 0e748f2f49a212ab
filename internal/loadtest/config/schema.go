// Package config provides configuration parsing and validation for load test runs.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTitle        = "DEFAULT"
	DefaultConcurrency  = 1
	DefaultDuration     = 60 * time.Second
	DefaultTimeout      = 60 * time.Second
	DefaultRedirectHops = 10
)

// LoadTestConfig is the configuration of one run.
//
// Example YAML:
//
//	title: "checkout"
//	url: "https://api.example.com/health"
//	method: GET
//	headers:
//	  Authorization: "Bearer token"
//	concurrency: 50
//	duration: 30s
//	rate: 200
//	redirect: default
type LoadTestConfig struct {
	// Title of the run (for reporting)
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// URL is the target endpoint
	URL string `json:"url" yaml:"url"`

	// Method is the HTTP method (GET or POST)
	Method Method `json:"method,omitempty" yaml:"method,omitempty"`

	// Body is sent with POST requests
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Concurrency is the maximum number of requests in flight
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Workers sets GOMAXPROCS for the run; zero keeps the runtime default
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Duration is how long new requests are dispatched
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Delay is a fixed wait applied inside every request task before it
	// asks for a permit
	Delay Duration `json:"delay,omitempty" yaml:"delay,omitempty"`

	// Rate caps new requests per second; zero means unlimited
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// Redirect controls how redirects are followed
	Redirect RedirectPolicy `json:"redirect,omitempty" yaml:"redirect,omitempty"`

	// Timeout is the per-request client timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(c *LoadTestConfig) {
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Method == MethodUnset {
		c.Method = MethodGet
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Duration == 0 {
		c.Duration = Duration(DefaultDuration)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
}

// Method is the closed set of supported request methods.
type Method int

const (
	MethodUnset Method = iota
	MethodGet
	MethodPost
)

// ParseMethod parses a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return MethodUnset, nil
	case "GET":
		return MethodGet, nil
	case "POST":
		return MethodPost, nil
	default:
		return MethodUnset, &ValidationError{Field: "method", Message: fmt.Sprintf("unsupported method: %s (supported: GET, POST)", s)}
	}
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Method) UnmarshalYAML(value *yaml.Node) error {
	return m.UnmarshalText([]byte(value.Value))
}

// RedirectMode selects the redirect behavior.
type RedirectMode int

const (
	// RedirectDefault follows up to DefaultRedirectHops redirects.
	RedirectDefault RedirectMode = iota
	// RedirectNone never follows redirects; the 3xx response is the result.
	RedirectNone
	// RedirectLimit follows up to Limit redirects.
	RedirectLimit
)

// RedirectPolicy is None, Default, or Limit(n).
type RedirectPolicy struct {
	Mode  RedirectMode
	Limit int
}

// ParseRedirectPolicy parses "none", "default" or a non-negative hop count.
// An empty string is the default policy.
func ParseRedirectPolicy(s string) (RedirectPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "default":
		return RedirectPolicy{Mode: RedirectDefault}, nil
	case "none":
		return RedirectPolicy{Mode: RedirectNone}, nil
	}

	s = strings.TrimPrefix(s, "limit:")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return RedirectPolicy{}, &ValidationError{Field: "redirect", Message: fmt.Sprintf("invalid redirect policy: %q (want none, default or a hop count)", s)}
	}
	if n == 0 {
		return RedirectPolicy{Mode: RedirectNone}, nil
	}
	return RedirectPolicy{Mode: RedirectLimit, Limit: n}, nil
}

// UnmarshalJSON accepts both "none" and 3.
func (r *RedirectPolicy) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = RedirectPolicy{}
		return nil
	}
	return r.UnmarshalText([]byte(strings.Trim(string(b), `"`)))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *RedirectPolicy) UnmarshalYAML(value *yaml.Node) error {
	return r.UnmarshalText([]byte(value.Value))
}

// MaxHops returns how many redirects may be followed.
func (r RedirectPolicy) MaxHops() int {
	switch r.Mode {
	case RedirectNone:
		return 0
	case RedirectLimit:
		return r.Limit
	default:
		return DefaultRedirectHops
	}
}

func (r RedirectPolicy) String() string {
	switch r.Mode {
	case RedirectNone:
		return "none"
	case RedirectLimit:
		return strconv.Itoa(r.Limit)
	default:
		return "default"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r RedirectPolicy) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RedirectPolicy) UnmarshalText(b []byte) error {
	parsed, err := ParseRedirectPolicy(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// Bare integers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration in whole seconds.
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	dur, err := ParseDurationString(string(b))
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// UnmarshalJSON accepts both "30s" and 30.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*d = 0
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	seconds, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}
	return time.Duration(seconds) * time.Second, nil
}
