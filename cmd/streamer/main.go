// Command streamer captures frames, streams them to the drowsiness analysis
// service over a websocket and serves a local viewer of the results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drowsiness-detection/streaming-client/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "streamer",
		Short: "Stream camera frames to the drowsiness analysis service",
		Long: `Captures frames at a fixed cadence, sends them as base64 JPEG over a
websocket to the analysis service and keeps the latest report and images.
A local viewer shows the returned images, the report and the stream state.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	d := config.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.String("server", d.ServerURL, "analysis service websocket URL")
	f.Bool("auto-start", d.AutoStart, "start streaming on launch")
	f.String("source", d.Capture.Source, "capture source (pattern, file, webcam)")
	f.String("dir", d.Capture.Dir, "image directory for the file source")
	f.Int("device", d.Capture.Device, "webcam index, negative to try 0..2")
	f.Duration("interval", d.Stream.FrameInterval, "target interval between frames")
	f.Float64("quality", d.Stream.Quality, "JPEG quality in [0,1]")
	f.String("policy", d.Stream.Policy, "in-flight release policy (arrival, send)")
	f.Duration("reconnect-delay", d.Transport.ReconnectDelay, "delay before each reconnect attempt")
	f.Int("max-reconnects", d.Transport.MaxReconnectAttempts, "reconnect attempts before giving up")
	f.String("http", d.Viewer.Addr, "viewer HTTP address")
	f.Bool("viewer", d.Viewer.Enabled, "serve the local viewer")
	f.String("log-level", d.Log.Level, "log level (debug, info, warn, error, silent)")
	f.String("log-format", d.Log.Format, "log format (console, json)")
	f.Bool("log-color", d.Log.Color, "colored console log output")

	return cmd
}
