package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/loadtest/config"
)

// execute runs a fresh command tree with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// parseRunFlags parses args on a fresh run command without executing it.
func parseRunFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestBuildConfig_Flags(t *testing.T) {
	cmd := parseRunFlags(t,
		"-u", "http://localhost:8080/cart",
		"-v", "checkout",
		"-m", "post",
		"-g", `{"Content-Type": "application/json", "X-Try": 2}`,
		"-d", `{"sku": 1}`,
		"-c", "25",
		"-t", "4",
		"-r", "30",
		"-s", "15",
		"-l", "200",
		"--redirect", "none",
		"--timeout", "5s",
	)

	cfg, err := buildConfig(cmd, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/cart", cfg.URL)
	assert.Equal(t, "checkout", cfg.Title)
	assert.Equal(t, config.MethodPost, cfg.Method)
	assert.Equal(t, map[string]string{"Content-Type": "application/json", "X-Try": "2"}, cfg.Headers)
	assert.Equal(t, `{"sku": 1}`, cfg.Body)
	assert.Equal(t, 25, cfg.Concurrency)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.Duration.Std())
	assert.Equal(t, 15*time.Millisecond, cfg.Delay.Std())
	assert.Equal(t, 200.0, cfg.Rate)
	assert.Equal(t, config.RedirectNone, cfg.Redirect.Mode)
	assert.Equal(t, 5*time.Second, cfg.Timeout.Std())
}

func TestBuildConfig_Defaults(t *testing.T) {
	cmd := parseRunFlags(t)
	cfg, err := buildConfig(cmd, []string{"http://localhost/"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost/", cfg.URL)
	assert.Equal(t, "DEFAULT", cfg.Title)
	assert.Equal(t, config.MethodGet, cfg.Method)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.Duration.Std())
	assert.Equal(t, 60*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 10, cfg.Redirect.MaxHops())
	assert.Zero(t, cfg.Rate)
}

func TestBuildConfig_FileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
title: from-file
url: http://file.local/
concurrency: 8
duration: 20s
headers:
  Accept: text/plain
`), 0o644))

	cmd := parseRunFlags(t, "--config", path, "-c", "2", "-g", `{"X-Extra": "1"}`)
	cfg, err := buildConfig(cmd, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Title)
	assert.Equal(t, "http://file.local/", cfg.URL)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.Duration.Std())
	assert.Equal(t, map[string]string{"Accept": "text/plain", "X-Extra": "1"}, cfg.Headers)
}

func TestBuildConfig_BodyWithGET(t *testing.T) {
	cmd := parseRunFlags(t, "-u", "http://x/", "-d", "payload")
	cfg, err := buildConfig(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, config.MethodGet, cfg.Method)
	assert.Equal(t, "payload", cfg.Body)
}

func TestBuildConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing url", nil},
		{"unsupported method", []string{"-u", "http://x/", "-m", "DELETE"}},
		{"bad headers", []string{"-u", "http://x/", "-g", "not json"}},
		{"zero concurrency", []string{"-u", "http://x/", "-c", "0"}},
		{"zero run time", []string{"-u", "http://x/", "-r", "0"}},
		{"negative rate", []string{"-u", "http://x/", "-l", "-5"}},
		{"bad redirect", []string{"-u", "http://x/", "--redirect", "maybe"}},
		{"bad timeout", []string{"-u", "http://x/", "--timeout", "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := parseRunFlags(t, tt.args...)
			_, err := buildConfig(cmd, nil)
			require.Error(t, err)

			var one *config.ValidationError
			var many *config.ValidationErrors
			assert.True(t, errors.As(err, &one) || errors.As(err, &many), "got %T: %v", err, err)
		})
	}
}

func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a one second load test")
	}

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	outPath := filepath.Join(t.TempDir(), "report.json")
	stdout, _, err := execute(t, "run", "-u", server.URL, "-c", "4", "-r", "1", "-l", "50",
		"-v", "e2e", "--no-color", "-o", outPath)
	require.NoError(t, err)

	assert.Contains(t, stdout, "e2e - Running")
	assert.Contains(t, stdout, "e2e - Completed")
	assert.Contains(t, stdout, "Latency:")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "e2e", decoded["title"])
	assert.Equal(t, float64(hits.Load()), decoded["requests"])
	assert.Equal(t, 4.0, decoded["connections"])
}

func TestRun_JSONFormatOnStdout(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a one second load test")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	stdout, stderr, err := execute(t, "run", server.URL, "-r", "1", "-l", "20", "--format", "json")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded), "stdout must be pure JSON")
	assert.Equal(t, decoded["requests"], decoded["non2xx"])
	assert.Equal(t, 0.0, decoded["errors"])
	assert.Contains(t, stderr, "DEFAULT - Running")
}

func TestRun_InvalidConfigFails(t *testing.T) {
	_, _, err := execute(t, "run", "-u", "ftp://nowhere", "-r", "1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "url"))
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "surge "+version+"\n", stdout)
}
