package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/SS8816/rulequery/internal/errors"
	"github.com/SS8816/rulequery/internal/metrics"
)

var metricsListenAddr string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve the Prometheus metrics endpoint",
	Long:  `Expose run, execution, cache, and repair counters at /metrics until interrupted.`,
	RunE:  runMetrics,
}

func init() {
	metricsCmd.Flags().StringVar(&metricsListenAddr, "listen", "", "Listen address (defaults to the configured one)")

	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	addr := metricsListenAddr
	if addr == "" {
		addr = cfg.Metrics.ListenAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-cmd.Context().Done()
		server.Close()
	}()

	fmt.Printf("Serving metrics at http://%s/metrics\n", addr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return apperrors.Wrap(err, apperrors.ErrTypeInternal, "metrics server failed")
	}

	return nil
}
