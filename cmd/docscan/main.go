package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/docscan/internal/common"
)

var (
	configFile string
	cfg        *common.Config
	logger     *slog.Logger
	v          *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "docscan",
	Short: "Detect signatures, stamps and QR codes in scanned documents",
	Long: `docscan rasterizes PDFs, images and zip archives, runs each page through
an object detection backend and a QR decoder, and stores annotated pages,
heatmaps and a per-document summary.

Available commands:
  serve   - HTTP API, websocket stream and background workers
  process - analyze documents and print the results
  batch   - analyze every document under a directory
  jobs    - list, delete or prune stored jobs
  export  - write the job report as an xlsx workbook

Every setting can be overridden with DOCSCAN_<SECTION>_<KEY>, e.g.
DOCSCAN_DETECTOR_URL or DOCSCAN_WORKERS_COUNT.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if err = v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
			return err
		}
		if err = v.BindPFlag("log.format", cmd.Root().PersistentFlags().Lookup("log-format")); err != nil {
			return err
		}
		if configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
		cfg, err = common.LoadConfig(v)
		if err != nil {
			return err
		}
		logger = newLogger(os.Stderr, cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	var err error
	if v, err = common.NewViper(""); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(w io.Writer, lc common.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
