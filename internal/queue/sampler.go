package queue

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/cliq-dev/cliq/internal/task"
)

const (
	// defaultSampleInterval matches the UI poll interval the snapshots
	// feed.
	defaultSampleInterval = 5 * time.Second

	// cpuSampleWindow is how long the second CPU reading waits after the
	// discarded first one.
	cpuSampleWindow = 250 * time.Millisecond
)

// runSampler periodically samples the process tree rooted at pid and hands
// each snapshot to report. The report function is expected to marshal the
// append back onto the runner loop; the sampler itself never touches task
// state. It stops when ctx is cancelled or the process disappears.
func runSampler(ctx context.Context, pid int, interval time.Duration, report func(task.Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sn, err := takeSnapshot(int32(pid))
			if err != nil {
				// Process is gone; the runner will stop us shortly.
				return
			}
			report(sn)
		}
	}
}

// takeSnapshot reads CPU and memory usage of pid, summing all descendant
// processes into the parent's reading.
//
// CPU percent needs two calls: the first reading after attaching is a
// meaningless 0 and is discarded, and the second is taken after a short
// blocking window.
func takeSnapshot(pid int32) (task.Snapshot, error) {
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return task.Snapshot{}, err
	}
	procs := append([]*gopsproc.Process{p}, descendants(p)...)
	for _, pr := range procs {
		_, _ = pr.Percent(0)
	}
	time.Sleep(cpuSampleWindow)

	sn := task.Snapshot{At: time.Now()}
	for _, pr := range procs {
		if cpu, err := pr.Percent(0); err == nil {
			sn.CPU += cpu
		}
		if mem, err := pr.MemoryPercent(); err == nil {
			sn.Mem += float64(mem)
		}
		if mi, err := pr.MemoryInfo(); err == nil && mi != nil {
			sn.RSS += mi.RSS
		}
	}
	return sn, nil
}

// descendants enumerates the process's children recursively.
func descendants(p *gopsproc.Process) []*gopsproc.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	all := make([]*gopsproc.Process, 0, len(children))
	for _, c := range children {
		all = append(all, c)
		all = append(all, descendants(c)...)
	}
	return all
}
