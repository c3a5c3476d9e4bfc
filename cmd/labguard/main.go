// Package main is the CLI entry point for labguard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Saifurrehman2094/labguard/internal/domain"
	"github.com/Saifurrehman2094/labguard/internal/infra"
	"github.com/Saifurrehman2094/labguard/internal/monitor"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "labguard",
	Short: "Foreground application monitor for proctored exam sessions",
	Long: `labguard watches which application holds foreground focus during an
exam session, classifies it against an allow list, and records every
focus excursion to a disallowed application as a violation in an
encrypted local audit trail. It observes and records; it never blocks
or kills anything.`,
	Version: Version,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start monitoring a session until interrupted",
	Long: `Starts a monitoring session and streams lifecycle events to the
terminal until Ctrl-C, SIGTERM, or a fatal probe failure ends it.
All events are also persisted to the encrypted event store under the
data directory.`,
	RunE: runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded events and violations",
	Long: `Without --session, shows the data directory and host capabilities.
With --session, lists the recorded events and violations of that session
from the encrypted event store.`,
	RunE: runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	watchSessionID string
	watchSubjectID string
	watchDeviceID  string
	watchAllow     []string
	watchInterval  time.Duration
	watchThreshold int
	watchNoCapture bool
	watchVerbose   bool

	statusSessionID string

	dataDir    string
	jsonOutput bool
)

func init() {
	watchCmd.Flags().StringVar(&watchSessionID, "session", "", "Session ID (generated if empty)")
	watchCmd.Flags().StringVar(&watchSubjectID, "subject", "", "Subject (examinee) identifier")
	watchCmd.Flags().StringVar(&watchDeviceID, "device", "", "Device identifier (defaults to hostname)")
	watchCmd.Flags().StringSliceVar(&watchAllow, "allow", nil, "Allowed application (repeatable)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", monitor.DefaultPollInterval, "Poll interval")
	watchCmd.Flags().IntVar(&watchThreshold, "error-threshold", 0, "Consecutive probe errors before abort (0 = default)")
	watchCmd.Flags().BoolVar(&watchNoCapture, "no-capture", false, "Disable screenshot evidence capture")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Log to the terminal instead of the log file")

	statusCmd.Flags().StringVar(&statusSessionID, "session", "", "Session ID to inspect")

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.labguard)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "labguard")
	}
	return filepath.Join(home, ".labguard")
}

func openStore(dir string) (*infra.EncryptedEventStore, error) {
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare store key: %w", err)
	}
	store, err := infra.NewEncryptedEventStore(dir, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return store, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if len(watchAllow) == 0 {
		return fmt.Errorf("at least one --allow entry is required (an empty allow list flags everything)")
	}

	logger := createLogger(watchVerbose)
	defer func() { _ = logger.Sync() }()

	dir := resolveDataDir()
	store, err := openStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver := infra.NewProcessResolver()
	probe := infra.NewForegroundProbe(resolver, logger)

	var capturer domain.EvidenceCapturer
	if !watchNoCapture {
		capturer = infra.NewScreenCapturer(dir, logger)
	}

	config := monitor.DefaultControllerConfig()
	if watchThreshold > 0 {
		config.ErrorThreshold = watchThreshold
	}
	controller := monitor.NewController(config, probe, store, capturer, logger)

	if watchSessionID == "" {
		watchSessionID = uuid.NewString()
	}
	if watchDeviceID == "" {
		watchDeviceID, _ = os.Hostname()
	}

	params := domain.SessionParams{
		SessionID:    watchSessionID,
		SubjectID:    watchSubjectID,
		DeviceID:     watchDeviceID,
		AllowList:    domain.AllowList(watchAllow),
		PollInterval: watchInterval,
	}
	if err := controller.Start(params); err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}

	fmt.Println("\n=== labguard Monitoring ===")
	fmt.Printf("Session:  %s\n", watchSessionID)
	fmt.Printf("Device:   %s\n", watchDeviceID)
	fmt.Printf("Interval: %s\n", watchInterval)
	fmt.Printf("Store:    %s\n", store.GetStorePath())
	fmt.Println("\nAllowed applications:")
	for _, entry := range watchAllow {
		fmt.Printf("  - %s\n", entry)
	}
	fmt.Println("\nPress Ctrl-C to end the session.")
	fmt.Println("===========================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			// Fatal probe failure may have already ended the session.
			if err := controller.Stop(); err != nil {
				return nil
			}
		case event := <-controller.Events():
			printEvent(event)
			if event.Type == domain.EventSessionEnd {
				fmt.Println("\nSession ended.")
				if dropped := controller.DroppedEvents(); dropped > 0 {
					logger.Warn("events dropped from terminal stream (audit trail is complete)",
						zap.Int64("dropped", dropped))
				}
				return nil
			}
		}
	}
}

func printEvent(event domain.MonitoringEvent) {
	ts := event.Timestamp.Format("15:04:05")
	switch event.Type {
	case domain.EventSessionStart:
		fmt.Printf("[%s] session started\n", ts)
	case domain.EventSessionEnd:
		fmt.Printf("[%s] session ended: %s\n", ts, event.Message)
	case domain.EventApplicationChanged:
		name := "(no foreground app)"
		if event.Identity != nil && !event.Identity.IsEmpty() {
			name = event.Identity.Name
		}
		fmt.Printf("[%s] focus: %s\n", ts, name)
	case domain.EventViolationOpened:
		fmt.Printf("[%s] VIOLATION opened: %s (pid %d)\n", ts,
			event.Violation.ApplicationName, event.Violation.ProcessID)
	case domain.EventViolationClosed:
		fmt.Printf("[%s] violation closed: %s (%.1fs)\n", ts,
			event.Violation.ApplicationName, float64(event.Violation.DurationMs)/1000)
	case domain.EventProbeError:
		fmt.Printf("[%s] probe error: %s\n", ts, event.Message)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir := resolveDataDir()

	fmt.Println("\n=== labguard Status ===")
	fmt.Printf("Data directory: %s\n", dir)

	provider := infra.NewFileKeyProvider(dir)
	if provider.KeyExists() {
		fmt.Println("Store key: present")
	} else {
		fmt.Println("Store key: not yet generated")
	}

	if statusSessionID == "" {
		fmt.Println("\nPass --session <id> to list a session's recorded events.")
		fmt.Println("=======================")
		return nil
	}

	store, err := openStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	events, err := store.ListEvents(ctx, statusSessionID)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	violations, err := store.ListViolations(ctx, statusSessionID)
	if err != nil {
		return fmt.Errorf("failed to list violations: %w", err)
	}

	fmt.Printf("\nSession %s: %d events, %d violations\n", statusSessionID, len(events), len(violations))
	for _, event := range events {
		printEvent(event)
	}

	if len(violations) > 0 {
		fmt.Println("\nViolations:")
		for _, v := range violations {
			state := "OPEN"
			if !v.IsOpen() {
				state = fmt.Sprintf("%.1fs", float64(v.DurationMs)/1000)
			}
			evidence := "no evidence"
			if v.EvidenceCaptured {
				evidence = v.EvidencePath
			}
			fmt.Printf("  [%s] %s at %s (%s, %s)\n",
				v.ViolationID, v.ApplicationName,
				v.StartedAt.Format("15:04:05"), state, evidence)
		}
	}

	fmt.Println("=======================")
	return nil
}

func createLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	config := zap.NewProductionConfig()
	dir := resolveDataDir()
	_ = os.MkdirAll(dir, 0700)
	logPath := filepath.Join(dir, "labguard.log")
	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{logPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("labguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
