package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stagewhisper/internal/audio"
	"stagewhisper/internal/classify"
	"stagewhisper/internal/config"
)

const version = "0.3.0-dev"

var (
	flagLogLevel  string
	flagProvider  string
	flagListen    string
	flagAutostart bool
	flagDetailed  bool
)

var rootCmd = &cobra.Command{
	Use:   "stagewhisper",
	Short: "Realtime transcription bridge for interview practice",
	Long: "stagewhisper captures system audio, streams it to a realtime " +
		"transcription provider and serves live transcripts with question " +
		"classification over a local API.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env file is optional.
		_ = godotenv.Load()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the transcription daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := buildLogger(flagLogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		overrides := map[string]string{}
		if flagProvider != "" {
			overrides["provider"] = flagProvider
		}
		if flagListen != "" {
			overrides["server.listen_addr"] = flagListen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app := NewApp(logger)
		app.Startup(overrides)
		return app.Run(ctx, flagAutostart)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List capturable audio sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		devices := audio.NewPulseDevices(cfg.Audio.PactlCommand, cfg.Audio.FFmpegCommand)
		sources, err := devices.EnumerateSources(cmd.Context())
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no capturable sources found")
			return nil
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Description", "Monitor"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		for _, source := range sources {
			monitor := ""
			if source.Monitor {
				monitor = "yes"
			}
			table.Append([]string{source.ID, source.Name, monitor})
		}
		table.Render()
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify an interview question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		classifier, err := classify.NewClassifierFromFile(cfg.Classify.KeywordsFile)
		if err != nil {
			return err
		}

		text := strings.Join(args, " ")
		if !flagDetailed {
			fmt.Fprintln(cmd.OutOrStdout(), string(classifier.Classify(text)))
			return nil
		}

		detailed, err := classifier.ClassifyDetailed(cmd.Context(), text)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Category", "Matches"})
		table.SetBorder(false)
		for _, category := range classify.Categories() {
			table.Append([]string{string(category), strconv.Itoa(detailed.Scores[category])})
		}
		table.SetFooter([]string{"result", string(detailed.Category)})
		table.Render()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "stagewhisper "+version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "zap log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&flagProvider, "provider", "", "transcription provider (openai, gladia)")
	runCmd.Flags().StringVar(&flagListen, "listen", "", "control API listen address")
	runCmd.Flags().BoolVar(&flagAutostart, "autostart", false, "start transcribing immediately")
	classifyCmd.Flags().BoolVar(&flagDetailed, "detailed", false, "show per-category match counts")

	rootCmd.AddCommand(runCmd, sourcesCmd, classifyCmd, versionCmd)
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
