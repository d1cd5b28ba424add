// Package cli implements the wellness command line: the HTTP server, an
// interactive terminal chat and a few catalog utilities.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/ashureev/wellness/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	portFlag   string
	modelFlag  string
	dbFlag     string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "wellness",
	Short:        "Family wellness chat assistant",
	Long:         "Persona-based family wellness assistant backed by Gemini, with a crisis safety gate, journal and feedback.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "HTTP port (default: $PORT or 8080)")
	RootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Gemini model (default: $GEMINI_MODEL or gemini-2.5-flash)")
	RootCmd.PersistentFlags().StringVarP(&dbFlag, "db", "d", "", "Database path (default: $DB_PATH or ./data/wellness.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: text or json")
}

// loadConfig reads .env and the environment, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if modelFlag != "" {
		cfg.GeminiModel = modelFlag
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}
	return cfg, cfg.Validate()
}

func setupLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// printJSON writes v indented, the way every --format json output looks.
func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
