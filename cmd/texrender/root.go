package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/texrender"
	"github.com/aretw0/texrender/internal/config"
	"github.com/aretw0/texrender/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "texrender",
	Short: "texrender turns LaTeX snippets into images",
	Long: `texrender builds LaTeX documents from chat snippets, renders them through a
persistent backend connection pool or a signed-URL rendering service, and delivers the result.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		envFiles, _ := cmd.Flags().GetStringSlice("env-file")

		loaded, err := config.Load(path, envFiles...)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			loaded.Log.Level = level
		}
		cfg = loaded
		logger = logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newService() (*texrender.Service, error) {
	svc, err := texrender.New(cfg, texrender.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("error initializing texrender: %w", err)
	}
	return svc, nil
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "Dotenv files loaded before the environment is read")
}
