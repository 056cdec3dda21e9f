package main

import (
	"fmt"
	"os"
	"runtime/pprof"
	"sort"
	"time"

	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"

	"nyxkern/proc"
)

// newProfileCmd records a CPU profile of the host process for the given
// duration -- sampling whatever scheduler/runqueue activity is live in
// this process via runtime/pprof, the same mechanism the teacher's own
// go.mod pulls in google/pprof for at build time -- then parses it back
// with github.com/google/pprof/profile and prints the hottest functions
// by sample count. The teacher only ever consumed pprof output offline
// with `go tool pprof`; this makes the same profile.Profile type usable
// from inside a running nyxctl process for a quick contention summary.
func newProfileCmd() *cobra.Command {
	var out string
	var duration time.Duration
	var top int

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Record a CPU profile and summarize the hottest functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := pprof.StartCPUProfile(f); err != nil {
				return err
			}
			spin(duration)
			pprof.StopCPUProfile()

			return summarize(out, top)
		},
	}

	cmd.Flags().StringVar(&out, "out", "nyxctl.pprof", "path to write the CPU profile to")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "how long to sample")
	cmd.Flags().IntVar(&top, "top", 10, "number of hottest functions to print")
	return cmd
}

// spin keeps the profiler busy sampling actual scheduler work -- walking
// the runqueue the way a CPU's idle loop (proc.BootCPUs) would -- rather
// than sleeping, so the resulting profile has real samples to report.
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		proc.RunqLen()
	}
}

func summarize(path string, top int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prof, err := profile.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing profile: %w", err)
	}

	counts := map[string]int64{}
	for _, s := range prof.Sample {
		if len(s.Location) == 0 || len(s.Value) == 0 {
			continue
		}
		loc := s.Location[0]
		name := "?"
		if len(loc.Line) > 0 && loc.Line[0].Function != nil {
			name = loc.Line[0].Function.Name
		}
		counts[name] += s.Value[0]
	}

	type row struct {
		name string
		n    int64
	}
	rows := make([]row, 0, len(counts))
	for name, n := range counts {
		rows = append(rows, row{name, n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].n > rows[j].n })

	fmt.Printf("nyxctl: %d samples across %d functions\n", len(prof.Sample), len(counts))
	for i, r := range rows {
		if i >= top {
			break
		}
		fmt.Printf("%8d  %s\n", r.n, r.name)
	}
	return nil
}
