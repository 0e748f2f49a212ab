// Package output renders live progress and the final report on the console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/engine"
	"github.com/wesleyorama2/surge/internal/loadtest/report"
	"github.com/wesleyorama2/surge/internal/loadtest/stats"
)

// Cursor control for the live view
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// Console manages console output during and after a run.
type Console struct {
	title         string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	colors        *ColorScheme
	quiet         bool

	mu          sync.Mutex
	linesOutput int // Number of lines in the live display
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Title         string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	colors := NoColorScheme()
	switch {
	case config.NoColor:
	case config.ForceColors:
		colors = forcedColorScheme()
	case isTTY && supportsColors():
		colors = DefaultColorScheme()
	}

	return &Console{
		title:         config.Title,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		colors:        colors,
		quiet:         config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(method, url string, concurrency int, rate float64) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(ruleChar, 56)
	c.writeln(c.colors.Dim.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(c.title), c.colors.Good.Sprint("Running")))
	c.writeln(c.colors.Dim.Sprint(line))

	pacing := "unlimited"
	if rate > 0 {
		pacing = fmt.Sprintf("%.1f req/s", rate)
	}
	c.writeln(fmt.Sprintf("%s %s", c.colors.Method.Sprint(method), c.colors.URL.Sprint(url)))
	c.writeln(fmt.Sprintf("Connections: %s | Rate: %s | Duration: %s",
		c.colors.Value.Sprint(concurrency),
		c.colors.Value.Sprint(pacing),
		c.colors.Value.Sprint(formatDuration(c.totalDuration))))
	c.writeln("")
}

// Progress shows one per-second update: a redrawn panel on a terminal, one
// line per second otherwise.
func (c *Console) Progress(p engine.Progress) {
	if c.quiet {
		return
	}
	if c.isTTY {
		c.update(p)
		return
	}
	c.printLine(p)
}

func (c *Console) update(p engine.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLive(p)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) printLine(p engine.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%ds] %s req/s | Reqs: %s | Errors: %d | Non-2xx: %d | In flight: %d | P50: %s | P99: %s",
		p.Second,
		formatNumber(int64(p.Count)),
		formatNumber(p.Live.Requests),
		p.Live.Errors,
		p.Live.Non2xx,
		p.InFlight,
		formatDurationShort(p.Live.LatencyP50),
		formatDurationShort(p.Live.LatencyP99)))
}

func (c *Console) renderLive(p engine.Progress) []string {
	progress := 0.0
	if c.totalDuration > 0 {
		progress = float64(p.Elapsed) / float64(c.totalDuration)
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Good.Sprint(renderProgressBar(progress, 40)),
		c.colors.Title.Sprintf("%.0f%%", clamp(progress)*100),
		c.colors.Dim.Sprintf("%s / %s", formatDuration(p.Elapsed), formatDuration(c.totalDuration))))

	attempts := p.Live.Requests + p.Live.Errors
	errRate := 0.0
	if attempts > 0 {
		errRate = float64(p.Live.Errors) / float64(attempts)
	}

	lines = append(lines, fmt.Sprintf("RPS:      %s   In flight: %s",
		c.colors.Good.Sprintf("%.0f", p.Count),
		c.colors.Value.Sprint(p.InFlight)))
	lines = append(lines, fmt.Sprintf("Requests: %s   Errors: %s   Non-2xx: %s",
		c.colors.Value.Sprint(formatNumber(p.Live.Requests)),
		c.colors.rateColor(errRate).Sprintf("%d (%.1f%%)", p.Live.Errors, errRate*100),
		c.colors.Value.Sprint(formatNumber(p.Live.Non2xx))))
	lines = append(lines, fmt.Sprintf("Latency:  p50 %s   p99 %s   max %s",
		c.colors.Value.Sprint(formatDurationShort(p.Live.LatencyP50)),
		c.colors.Value.Sprint(formatDurationShort(p.Live.LatencyP99)),
		c.colors.Value.Sprint(formatDurationShort(p.Live.LatencyMax))))
	return lines
}

// clearLive erases the live panel. Callers hold c.mu.
func (c *Console) clearLive() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// PrintSummary prints the final report.
func (c *Console) PrintSummary(r *report.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		c.writeln(fmt.Sprintf("%s: %d requests, %d errors, %d non-2xx",
			r.Title, r.Requests, r.Errors, r.Non2xx))
		return
	}

	c.clearLive()

	line := strings.Repeat(ruleChar, 56)
	c.writeln("")
	c.writeln(c.colors.Dim.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(r.Title), c.colors.Good.Sprint("Completed")))
	c.writeln(c.colors.Dim.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Target:        %s %s", c.colors.Method.Sprint(r.Method), c.colors.URL.Sprint(r.URL)))
	c.writeln(fmt.Sprintf("Duration:      %s (elapsed %s)",
		c.colors.Value.Sprint(formatDuration(time.Duration(r.Duration)*time.Second)),
		formatDuration(time.Duration(r.Elapsed*float64(time.Second)))))
	c.writeln(fmt.Sprintf("Connections:   %s", c.colors.Value.Sprint(r.Connections)))
	c.writeln(fmt.Sprintf("Requests:      %s", c.colors.Value.Sprint(formatNumber(r.Requests))))

	attempts := r.Attempts()
	errRate := 0.0
	if attempts > 0 {
		errRate = float64(r.Errors) / float64(attempts)
	}
	c.writeln(fmt.Sprintf("Errors:        %s (timeouts: %d)",
		c.colors.rateColor(errRate).Sprintf("%d (%.1f%%)", r.Errors, errRate*100), r.Timeouts))

	non2xxColor := c.colors.Good
	if r.Non2xx > 0 {
		non2xxColor = c.colors.Warn
	}
	c.writeln(fmt.Sprintf("Non-2xx:       %s", non2xxColor.Sprint(formatNumber(r.Non2xx))))
	if r.TaskFaults > 0 {
		c.writeln(fmt.Sprintf("Task faults:   %s", c.colors.Bad.Sprint(r.TaskFaults)))
	}
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Latency:"))
	c.printStats(r.Latency, func(v float64) string {
		return formatDurationShort(time.Duration(v * float64(time.Second)))
	})

	if r.RequestsPerSecond != nil {
		c.writeln(c.colors.Label.Sprint("Requests/sec:"))
		c.printStats(*r.RequestsPerSecond, func(v float64) string {
			return fmt.Sprintf("%.1f", v)
		})
	}

	if r.Throughput != nil {
		c.writeln(c.colors.Label.Sprint("Response size:"))
		c.printStats(*r.Throughput, func(v float64) string {
			return formatBytes(int64(v))
		})
	}
}

func (c *Console) printStats(s stats.PerformanceStats, format func(float64) string) {
	c.writeln(fmt.Sprintf("  Avg: %s  Stdev: %s  Min: %s  Max: %s",
		format(s.Average), format(s.StdDev), format(s.Min), format(s.Max)))

	values := s.Values()
	var sb strings.Builder
	for i, pct := range stats.Percentiles {
		if i > 0 && i%3 == 0 {
			c.writeln("  " + strings.TrimRight(sb.String(), " "))
			sb.Reset()
		}
		sb.WriteString(fmt.Sprintf("%-8s %-12s", fmt.Sprintf("p%g", pct), format(values[i])))
	}
	if sb.Len() > 0 {
		c.writeln("  " + strings.TrimRight(sb.String(), " "))
	}
	c.writeln("")
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func clamp(progress float64) float64 {
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	filled := int(clamp(progress) * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}
