package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunesync/internal/catalog"
	"tunesync/internal/config"
	"tunesync/internal/device"
	"tunesync/internal/engine"
	"tunesync/internal/history"
	"tunesync/internal/logger"
	"tunesync/internal/metrics"
	"tunesync/internal/progress"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tunesync",
	Short: "Sync a Subsonic music library onto a portable device",
	Long:  `A concurrent, resumable sync tool that mirrors selected albums and playlists from a Subsonic-compatible server onto locally mounted storage, downloading only what the device is missing.`,
	RunE:  runSync,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sync runs",
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Server flags
	rootCmd.Flags().String("server", "", "Subsonic server URL")
	rootCmd.Flags().String("username", "", "Subsonic username")
	rootCmd.Flags().String("password", "", "Subsonic password")
	rootCmd.Flags().Float64("rate-limit", 0, "Max catalog API requests per second (0 = unlimited)")

	// Sync flags
	rootCmd.Flags().String("device", "", "Mount path of the target device (required)")
	rootCmd.Flags().StringArray("album", nil, "Album ID to sync (repeatable)")
	rootCmd.Flags().StringArray("playlist", nil, "Playlist ID to sync (repeatable)")
	rootCmd.Flags().Int("concurrency", 4, "Number of concurrent downloads")
	rootCmd.Flags().Int("retries", 3, "Maximum attempts per item")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
	rootCmd.Flags().Int("commit-every", 8, "Manifest commit cadence in completed items")
	rootCmd.Flags().Bool("dry-run", false, "Plan without downloading")
	rootCmd.Flags().Bool("write-playlists", true, "Regenerate M3U files for synced playlists")
	rootCmd.Flags().Bool("reset-manifest", false, "Treat a corrupt manifest as empty instead of aborting")
	rootCmd.Flags().Bool("force", false, "Take over a stale run lock")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
	rootCmd.Flags().String("history", "", "Run-history database file")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")

	historyCmd.Flags().String("history", "", "Run-history database file")
	historyCmd.Flags().Int("limit", 20, "Number of runs to show")

	rootCmd.AddCommand(historyCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	client, err := catalog.NewSubsonic(catalog.SubsonicConfig{
		BaseURL:           cfg.Server.URL,
		Username:          cfg.Server.Username,
		Password:          cfg.Server.Password,
		RequestsPerSecond: cfg.Server.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create catalog client: %w", err)
	}

	// Fail fast on bad credentials or an unreachable server, before
	// touching the device.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = client.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("server check failed: %w", err)
	}

	target, err := device.NewFS(cfg.Sync.Device)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}

	collector := metrics.New()
	if cfg.Sync.MetricsAddr != "" {
		go func() {
			if err := collector.StartServer(cfg.Sync.MetricsAddr); err != nil {
				log.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown on interrupt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	var display *progress.Display
	if cfg.Sync.ShowProgress && !cfg.Sync.DryRun && progress.IsTerminalSupported() {
		display = progress.NewDisplay(collector.ProgressTracker(), time.Second)
		display.Start()
	}

	eng := engine.New(client, target, engine.Options{
		Concurrency:    cfg.Sync.Concurrency,
		Retries:        cfg.Sync.Retries,
		RetryBackoff:   time.Duration(cfg.Sync.RetryBackoffMs) * time.Millisecond,
		CommitEvery:    cfg.Sync.CommitEvery,
		ServerURL:      cfg.Server.URL,
		ResetManifest:  cfg.Sync.ResetManifest,
		DryRun:         cfg.Sync.DryRun,
		WritePlaylists: cfg.Sync.WritePlaylists,
		Force:          cfg.Sync.Force,
		Metrics:        collector,
	}, log)

	summary, runErr := eng.Run(ctx, catalog.Selection{
		AlbumIDs:    cfg.Sync.Albums,
		PlaylistIDs: cfg.Sync.Playlists,
	})

	if display != nil {
		display.Stop()
	}

	saveHistory(log, summary)
	printSummary(summary)

	return runErr
}

func saveHistory(log *zap.Logger, s *engine.Summary) {
	store, err := history.NewStore(cfg.Sync.History)
	if err != nil {
		log.Warn("run history unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	run := history.Run{
		ID:         s.RunID,
		Target:     s.Target,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		State:      string(s.State),
		Fetched:    s.Fetched,
		Skipped:    s.Skipped,
		Failed:     s.Failed,
		Bytes:      s.Bytes,
	}
	for _, f := range s.Failures {
		run.Failures = append(run.Failures, history.Failure{
			ItemID:   f.ID,
			Class:    string(f.Class),
			Attempts: f.Attempts,
			Error:    f.Err,
		})
	}
	if err := store.SaveRun(run); err != nil {
		log.Warn("failed to record run history", zap.Error(err))
	}
}

func printSummary(s *engine.Summary) {
	fmt.Printf("%s: fetched=%d skipped=%d failed=%d (%s)\n",
		s.State, s.Fetched, s.Skipped, s.Failed, progress.FormatBytes(s.Bytes))
	for _, f := range s.Failures {
		fmt.Printf("  failed %s (%s): %s [%s after %d attempts]\n",
			f.ID, f.Title, f.Err, f.Class, f.Attempts)
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("history")
	if path == "" {
		path = config.HistoryPath(configFile)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	store, err := history.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	for _, r := range runs {
		fmt.Printf("%s  %s  %-8s fetched=%d skipped=%d failed=%d %s\n",
			r.StartedAt.Format(time.RFC3339), r.Target, r.State,
			r.Fetched, r.Skipped, r.Failed, progress.FormatBytes(r.Bytes))
		for _, f := range r.Failures {
			fmt.Printf("    %s: %s (%d attempts) %s\n", f.ItemID, f.Class, f.Attempts, f.Error)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
