package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"nyxkern/mem"
	"nyxkern/proc"
	"nyxkern/stats"
	"nyxkern/ufs"
)

// newServeMetricsCmd exposes the kernel's page allocator, block/inode
// cache, and scheduler runqueue gauges as a Prometheus endpoint. The
// teacher has no equivalent: its diagnostics are Fs_statistics()-style
// printed strings read over a debug console. We keep that surface
// (ufs.Ufs_t.Statistics) for interactive use and add this as the
// scrape-friendly counterpart, matching the retrieval pack's own use of
// client_golang to export gauges from a long-running daemon.
func newServeMetricsCmd() *cobra.Command {
	var addr, image string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve /metrics with live allocator, cache, and runqueue gauges",
		RunE: func(cmd *cobra.Command, args []string) error {
			var fsIface stats.Fs_i
			if image != "" {
				fsHandle := ufs.BootFS(image)
				defer ufs.ShutdownFS(fsHandle)
				fsIface = fsHandle
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(stats.NewCollector(mem.Physmem, fsIface, proc.RunqLen))

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			fmt.Printf("nyxctl: serving metrics on %s/metrics\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9400", "address to serve /metrics on")
	cmd.Flags().StringVar(&image, "image", "", "optional disk image to mount read-write for cache gauges")
	return cmd
}
