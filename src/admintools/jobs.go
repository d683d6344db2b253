package admintools

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/forumdata"
	"git.handmade.network/hmn/forumdb/src/jobs"
	"git.handmade.network/hmn/forumdb/src/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func init() {
	var metricsAddr string
	var statsInterval time.Duration

	jobsCommand := &cobra.Command{
		Use:   "jobs",
		Short: "Run the forum's background maintenance until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.LogPanics(nil)

			// Each job gets its own store, since a gateway holds one connection.
			_, purgeStore, closePurge, err := openStore()
			if err != nil {
				return err
			}
			defer closePurge()
			_, statsStore, closeStats, err := openStore()
			if err != nil {
				return err
			}
			defer closeStats()

			backgroundJobs := jobs.Jobs{
				forumdata.PeriodicallyPurgeStaleFiles(purgeStore, config.Config.Files.PurgeInterval),
				periodicallyRefreshStats(statsStore, statsInterval),
			}

			var server *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				server = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					logging.Info().Str("addr", metricsAddr).Msg("Serving metrics")
					serverErr := server.ListenAndServe()
					if !errors.Is(serverErr, http.ErrServerClosed) {
						logging.Error().Err(serverErr).Msg("Metrics server shut down unexpectedly")
					}
				}()
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt)
			<-signals
			logging.Info().Msg("Shutting down background jobs...")

			if server != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logging.Warn().Err(err).Msg("Metrics server did not shut down gracefully")
				}
			}

			unfinished := backgroundJobs.CancelAndWait(10 * time.Second)
			if len(unfinished) == 0 {
				logging.Info().Msg("Background jobs closed gracefully")
			} else {
				logging.Warn().Strs("Unfinished", unfinished).Msg("Background jobs did not finish by the deadline")
			}
			return nil
		},
	}
	jobsCommand.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	jobsCommand.Flags().DurationVar(&statsInterval, "stats-interval", 6*time.Hour, "How often to recount all forum statistics")
	forumctl.Command.AddCommand(jobsCommand)
}

// Incremental stat updates drift when rows are edited by hand; this resets them.
func periodicallyRefreshStats(store *forumdata.Store, interval time.Duration) *jobs.Job {
	return jobs.Periodic("refresh forum stats", interval, false, func(ctx context.Context) error {
		n := store.RecomputeAllForumStats(ctx)
		logging.ExtractLogger(ctx).Debug().Int("forums", n).Msg("refreshed forum stats")
		return nil
	})
}
