package task

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot is a single resource usage sample of the running process tree.
// CPU and Mem are percentages with child processes summed into the parent's
// reading. RSS is resident memory in bytes.
type Snapshot struct {
	At  time.Time
	CPU float64
	Mem float64
	RSS uint64
}

// Stats tracks timing and resource usage of a single task run.
// Samples are append-only while the task is running.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Samples   []Snapshot
}

// MarkStart stamps the start time. Subsequent calls are no-ops so the first
// command of a task defines its start.
func (s *Stats) MarkStart() {
	if s.StartTime.IsZero() {
		s.StartTime = time.Now()
	}
}

// MarkEnd stamps the end time. Subsequent calls are no-ops.
func (s *Stats) MarkEnd() {
	if !s.StartTime.IsZero() && s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
}

// Append appends one resource snapshot.
func (s *Stats) Append(sn Snapshot) {
	s.Samples = append(s.Samples, sn)
}

// Duration returns the elapsed run time. For a run still in progress it
// returns the time since start.
func (s *Stats) Duration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// PeakCPU returns the highest sampled CPU percentage.
func (s *Stats) PeakCPU() float64 {
	var peak float64
	for _, sn := range s.Samples {
		if sn.CPU > peak {
			peak = sn.CPU
		}
	}
	return peak
}

// PeakRSS returns the highest sampled resident memory in bytes.
func (s *Stats) PeakRSS() uint64 {
	var peak uint64
	for _, sn := range s.Samples {
		if sn.RSS > peak {
			peak = sn.RSS
		}
	}
	return peak
}

// Reset clears all timing and samples, for a task being requeued.
func (s *Stats) Reset() {
	s.StartTime = time.Time{}
	s.EndTime = time.Time{}
	s.Samples = nil
}

// Summary returns a short human readable description of the run.
func (s *Stats) Summary() string {
	if s.StartTime.IsZero() {
		return "not started"
	}
	out := FormatInterval(s.Duration())
	if rss := s.PeakRSS(); rss > 0 {
		out += fmt.Sprintf(", peak %.1f%% cpu, %s", s.PeakCPU(), humanize.IBytes(rss))
	}
	return out
}

// FormatInterval formats a duration as mm:ss, or h:mm:ss once it exceeds
// an hour.
func FormatInterval(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
