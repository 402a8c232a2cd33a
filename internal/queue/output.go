package queue

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"syscall"
)

// ErrNotEnoughSpace reports that captured output could not be saved because
// the disk is full. It is distinct from other sink failures so callers can
// give an actionable message.
var ErrNotEnoughSpace = errors.New("not enough space to save output")

// ansiEscape matches 7-bit C1 ANSI escape sequences.
var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// cleanLine strips a UTF-8 byte order mark and ANSI escape sequences from a
// line of process output.
func cleanLine(line string) string {
	line = strings.TrimPrefix(line, "\ufeff")
	return ansiEscape.ReplaceAllString(line, "")
}

// OutputSink receives cleaned process output lines.
type OutputSink interface {
	WriteLine(line string) error
}

// FileSink appends process output lines to a log file.
type FileSink struct {
	f *os.File
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output log: %w", err)
	}
	return &FileSink{f: f}, nil
}

// WriteLine appends one line. A full disk is reported as ErrNotEnoughSpace.
func (s *FileSink) WriteLine(line string) error {
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return ErrNotEnoughSpace
		}
		return fmt.Errorf("write output log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error { return s.f.Close() }
