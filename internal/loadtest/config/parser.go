package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// documentSchema describes the shape of a configuration file. Semantic checks
// live in Validate; the schema only rejects misspelled keys and wrong types.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "duration": {"type": ["string", "integer", "null"]}
  },
  "properties": {
    "title":       {"type": "string"},
    "url":         {"type": "string"},
    "method":      {"type": "string"},
    "body":        {"type": "string"},
    "headers":     {"type": "object", "additionalProperties": {"type": ["string", "number", "boolean"]}},
    "concurrency": {"type": "integer", "minimum": 1},
    "workers":     {"type": "integer", "minimum": 0},
    "duration":    {"$ref": "#/definitions/duration"},
    "delay":       {"$ref": "#/definitions/duration"},
    "rate":        {"type": "number", "minimum": 0},
    "redirect":    {"type": ["string", "integer", "null"]},
    "timeout":     {"$ref": "#/definitions/duration"}
  }
}`

var compiledSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", strings.NewReader(documentSchema)); err != nil {
		panic(fmt.Sprintf("invalid config schema: %v", err))
	}
	return compiler.MustCompile("config.json")
}()

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*LoadTestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The document is first checked against the configuration schema, then
// decoded. The format is chosen from the extension in path; anything other
// than .json is read as YAML.
func ParseConfig(data []byte, path string) (*LoadTestConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if err := validateDocument(data, isJSON); err != nil {
		return nil, err
	}

	var cfg LoadTestConfig
	if isJSON {
		// Header values may be numbers or booleans, as in YAML; they go
		// through ParseHeaders instead of the string map decoder.
		doc := struct {
			*LoadTestConfig
			Headers json.RawMessage `json:"headers,omitempty"`
		}{LoadTestConfig: &cfg}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		if len(doc.Headers) > 0 {
			headers, err := ParseHeaders(string(doc.Headers))
			if err != nil {
				return nil, err
			}
			cfg.Headers = headers
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &cfg, nil
}

// validateDocument checks the raw document against documentSchema. YAML is
// converted to its JSON form first so both formats share one schema.
func validateDocument(data []byte, isJSON bool) error {
	raw := data
	if !isJSON {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to convert YAML config: %w", err)
		}
		raw = converted
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}

	if err := compiledSchema.Validate(v); err != nil {
		return &ValidationError{Message: fmt.Sprintf("config does not match schema: %v", err)}
	}
	return nil
}

// ParseHeaders parses a JSON object string such as
// {"Authorization": "Bearer x", "X-Retry": 3} into a header map.
//
// Scalar values are converted to their string form; nested objects and arrays
// are rejected. An empty string yields a nil map.
func ParseHeaders(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if !gjson.Valid(s) {
		return nil, &ValidationError{Field: "headers", Message: "headers must be a valid JSON object"}
	}

	parsed := gjson.Parse(s)
	if !parsed.IsObject() {
		return nil, &ValidationError{Field: "headers", Message: "headers must be a JSON object"}
	}

	headers := make(map[string]string)
	var bad string
	parsed.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() || value.IsArray() {
			bad = key.String()
			return false
		}
		if value.Type == gjson.Null {
			headers[key.String()] = ""
			return true
		}
		headers[key.String()] = value.String()
		return true
	})

	if bad != "" {
		return nil, &ValidationError{Field: "headers", Message: fmt.Sprintf("header %q must be a scalar value", bad)}
	}
	return headers, nil
}
