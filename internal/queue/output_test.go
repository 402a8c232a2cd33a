package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestCleanLine tests BOM and ANSI stripping
func TestCleanLine(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\ufeffwith bom", "with bom"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"\x1b[1;32mbold green\x1b[0m tail", "bold green tail"},
		{"\ufeff\x1b[2Kboth", "both"},
		{"", ""},
	}
	for _, c := range cases {
		if got := cleanLine(c.in); got != c.want {
			t.Errorf("cleanLine(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// TestFileSink tests appending lines to a log file
func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := sink.WriteLine("one"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := sink.WriteLine("two"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// a second sink on the same path must append, not truncate
	sink, err = NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink reopen: %v", err)
	}
	if err := sink.WriteLine("three"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	sink.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "one\ntwo\nthree\n"
	if string(data) != want {
		t.Fatalf("log contents = %q, want %q", string(data), want)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatalf("every line should end with a newline")
	}
}
