package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// LogEntry represents a parsed JSON log line.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Attrs   map[string]any `json:"-"` // Additional attributes
	Raw     string         `json:"-"` // Original line
	IsValid bool           `json:"-"` // Whether JSON parsing succeeded
}

// ViewerConfig configures the log viewer.
type ViewerConfig struct {
	Level   string         // Filter by minimum level (debug, info, warn, error)
	Pattern *regexp.Regexp // Filter by pattern match against the raw line
}

// Viewer reads, filters, and renders rotated JSON log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a new log viewer.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail reads the last n lines from a log file and returns matching entries.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	var entries []LogEntry
	for _, line := range lines {
		entry := parseLine(line)
		if v.matches(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow tails the file and streams new matching entries until the context
// is cancelled. New lines are polled rather than watched; the poll interval
// is short enough for interactive use.
func (v *Viewer) Follow(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Start from the current end of file.
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if len(line) > 0 {
					entry := parseLine(strings.TrimRight(line, "\n"))
					if v.matches(entry) {
						v.Print(entry)
					}
				}
				if err != nil {
					break
				}
			}
		}
	}
}

// Print renders a single entry to the viewer's output.
func (v *Viewer) Print(entry LogEntry) {
	if !entry.IsValid {
		_, _ = fmt.Fprintln(v.out, entry.Raw)
		return
	}

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(entry.Level)))
	b.WriteString(" ")
	b.WriteString(entry.Msg)
	for k, val := range entry.Attrs {
		b.WriteString(fmt.Sprintf(" %s=%v", k, val))
	}
	_, _ = fmt.Fprintln(v.out, b.String())
}

// matches reports whether the entry passes the configured filters.
func (v *Viewer) matches(entry LogEntry) bool {
	if v.config.Level != "" && entry.IsValid {
		if levelRank(entry.Level) < levelRank(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

// parseLine parses one JSON log line. Lines that fail to parse are kept
// as raw entries so that panics and foreign output are still visible.
func parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return entry
	}

	entry.IsValid = true
	entry.Attrs = make(map[string]any)
	for k, val := range fields {
		switch k {
		case "time":
			if s, ok := val.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					entry.Time = t
				}
			}
		case "level":
			if s, ok := val.(string); ok {
				entry.Level = s
			}
		case "msg":
			if s, ok := val.(string); ok {
				entry.Msg = s
			}
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func levelRank(level string) int {
	switch LevelFromString(level) {
	case slog.LevelDebug:
		return 0
	case slog.LevelInfo:
		return 1
	case slog.LevelWarn:
		return 2
	case slog.LevelError:
		return 3
	default:
		return 1
	}
}
