package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cliq-dev/cliq/internal/config"
	"github.com/cliq-dev/cliq/internal/queue"
	"github.com/cliq-dev/cliq/internal/store"
	"github.com/cliq-dev/cliq/internal/task"
)

// Resolve the history database path
func resolveStore(cmd *cobra.Command) (*store.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		dir := filepath.Join(base, "cliq")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "history.db")
	}
	return store.NewStore(path)
}

// Run a manifest
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [manifest]",
		Short: "Run the tasks described by a YAML manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath := ""
			if len(args) > 0 {
				manifestPath = args[0]
			}
			resume, _ := cmd.Flags().GetBool("resume")
			logFile, _ := cmd.Flags().GetString("log-file")
			sample, _ := cmd.Flags().GetDuration("sample")

			man, err := config.Load(manifestPath)
			if err != nil {
				return err
			}
			master := man.Master()

			st, err := resolveStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if resume {
				states, err := st.TaskStates(cmd.Context(), master.ID)
				if err != nil {
					return err
				}
				store.Restore(master, states)
			}

			h := queue.NewHandler(st)
			if logFile != "" {
				sink, err := queue.NewFileSink(logFile)
				if err != nil {
					return err
				}
				defer sink.Close()
				h.SetSink(sink)
			}
			if sample > 0 {
				h.SetSampleInterval(sample)
			}

			h.Events.Started = append(h.Events.Started, func(m *task.Master) {
				fmt.Printf("started %s\n", m.Name)
			})
			h.Events.Next = append(h.Events.Next, func(m *task.Master) {
				done := 0
				for _, t := range m.Tasks {
					if t.State().Terminal() {
						done++
					}
				}
				fmt.Printf("progress %d/%d tasks\n", done, len(m.Tasks))
			})
			h.Events.PartErrored = append(h.Events.PartErrored, func(m *task.Master) {
				fmt.Println("optional task failed, continuing")
			})
			h.Events.Paused = append(h.Events.Paused, func(m *task.Master, paused bool) {
				if paused {
					fmt.Println("paused")
				} else {
					fmt.Println("resumed")
				}
			})

			// First interrupt cancels the running job, second one
			// is left to the default handler.
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				signal.Stop(sig)
				if r := h.Current(); r != nil {
					r.Cancel()
				}
			}()

			if err := h.Add(master); err != nil {
				return err
			}
			h.Wait()

			fmt.Printf("%s: %s in %s\n", master.Name, master.State(), task.FormatInterval(master.Stats.Duration()))
			switch master.State() {
			case task.StateFailed:
				return fmt.Errorf("run failed")
			case task.StateCancelled:
				return fmt.Errorf("run cancelled")
			}
			return nil
		},
	}
	cmd.Flags().Bool("resume", false, "skip tasks finished in the previous run of this manifest")
	cmd.Flags().String("log-file", "", "append process output to this file")
	cmd.Flags().Duration("sample", 0, "resource sampling interval (default 5s)")
	return cmd
}

// Show run history
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			st, err := resolveStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			runs, err := st.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				dur := r.FinishedAt.Sub(r.StartedAt)
				if dur < 0 {
					dur = 0
				}
				fmt.Printf("#%d  %-24s %-12s %d tasks  %s  %s\n",
					r.RunID, r.Name, r.State, r.Tasks,
					task.FormatInterval(dur.Round(time.Second)),
					humanize.Time(r.StartedAt))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")
	return cmd
}
