package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/QUADRA/internal/logging"
)

var (
	logLevel  string
	logFormat string
	zapLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quadra",
	Short: "Derivative-free trust-region optimization for constrained problems",
	Long: `QUADRA minimizes expensive black-box functions under black-box
constraints using quadratic surrogate models over adaptive trust regions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger, err := logging.NewLogger(&logging.Config{
			Level:  logLevel,
			Format: logFormat,
			Output: "stderr",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		zapLogger = logging.NewZapLogger(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
}
