package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/config"
)

var version = "0.1.0"

// globalFlags are shared by every command
type globalFlags struct {
	configPath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "piano-grep",
		Short: "Turn the chorus of a song into a playable piano arrangement",
		Long: `piano-grep finds the chorus of an audio track, transcribes its notes
and reduces them to a two-hand piano arrangement written as MIDI.

Pipeline: audio → chorus detection → transcription → hand split and
difficulty reduction → MIDI (and optionally a LilyPond PDF score)`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default: ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(
		newTranscribeCmd(g),
		newChorusCmd(g),
		newReduceCmd(g),
		newServeCmd(g),
		newCacheCmd(g),
		newReportCmd(g),
	)
	return root
}

// loadSettings reads the config file and resolves the scripts directory
func loadSettings(g *globalFlags) (*config.Config, error) {
	settings, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if !dirExists(settings.Analysis.ScriptsDir) {
		settings.Analysis.ScriptsDir = findScriptsDir()
	}
	return settings, nil
}

// newLogger builds the slog logger for the configured level
func newLogger(settings *config.Config, verbose bool) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(settings.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// findScriptsDir locates the Python scripts directory
func findScriptsDir() string {
	// Check relative to executable
	exe, err := os.Executable()
	if err == nil {
		dir := filepath.Join(filepath.Dir(exe), "scripts", "python")
		if dirExists(dir) {
			return dir
		}
	}

	// Check common development locations
	candidates := []string{
		"./scripts/python",
		"../scripts/python",
		"../../scripts/python",
	}

	for _, c := range candidates {
		if dirExists(c) {
			return c
		}
	}

	return "scripts/python"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
