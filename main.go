package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kwv/headanchor/internal/log"
)

// Version is set at build time via -ldflags
var Version = "dev"

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configFile       string
	calibrationCache string
	logLevel         string
	fps              int
}

func main() {
	Execute()
}

// Execute runs the root command with a context cancelled by SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "headanchor",
		Short:         "Stabilized head pose estimation from face landmarks",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.Init(opts.logLevel)
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to configuration file (default: built-in preset)")
	root.PersistentFlags().StringVar(&opts.calibrationCache, "calibration-cache", ".calibration-cache.json", "Path to calibration cache file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	root.PersistentFlags().IntVar(&opts.fps, "fps", defaultFPS, "Render loop frame rate")

	root.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newCalibrateCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// newApp builds an App from the shared flags plus command specific options.
func newApp(g *globalOptions, opts AppOptions) *App {
	opts.ConfigFile = g.configFile
	opts.CalibrationCache = g.calibrationCache
	opts.FPS = g.fps
	app := NewApp()
	app.ApplyOptions(opts)
	return app
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts AppOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Track subjects from MQTT landmarks and publish poses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(g, opts).RunService(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&opts.MqttMode, "mqtt", true, "Subscribe to landmark topics and publish poses")
	cmd.Flags().BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP diagnostics server")
	cmd.Flags().IntVar(&opts.HttpPort, "http-port", defaultHTTPPort, "HTTP server port")
	cmd.Flags().StringVar(&opts.RecordFile, "record", "", "Append incoming detections to this recording file for later replay")
	return cmd
}

func newReplayCmd(g *globalOptions) *cobra.Command {
	var (
		opts     ReplayOptions
		quiet    bool
		showJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a recorded landmark stream through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showJSON {
				opts.Output = cmd.OutOrStdout()
			}
			if !quiet {
				opts.Progress = cmd.ErrOrStderr()
			}
			summary, err := newApp(g, AppOptions{}).RunReplay(opts)
			if err != nil {
				return err
			}
			if !showJSON {
				return printSummary(cmd.OutOrStdout(), summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Recording file (JSON lines)")
	cmd.Flags().StringVarP(&opts.Subject, "subject", "s", "", "Subject ID from the config (default: first subject)")
	cmd.Flags().StringVar(&opts.GeoJSON, "geojson", "", "Write the pose trail as GeoJSON to this file")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", 0.001, "Trail simplification tolerance (normalized units)")
	cmd.Flags().StringVar(&opts.Plot, "plot", "", "Write an estimator history plot (PNG) to this file")
	cmd.Flags().StringVar(&opts.Channel, "channel", "position.x", "Estimator channel for --plot")
	cmd.Flags().BoolVar(&showJSON, "json", false, "Print every output as a JSON line instead of a summary")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newCalibrateCmd(g *globalOptions) *cobra.Command {
	var input, subject string

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compute a subject's scale calibration from a recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := newApp(g, AppOptions{}).RunCalibrate(input, subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Calibration accepted: factor %.3f, scale %.5f, distance %.0f mm (saved to %s)\n",
				cal.OverallScaleFactor, cal.Scale, cal.DistanceMm, g.calibrationCache)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Recording file (JSON lines)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject ID to store the calibration under")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newExportCmd(g *globalOptions) *cobra.Command {
	var (
		input, format, output string
		frame                 int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the landmark overlay of one recorded frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = "overlay." + format
			}
			if err := newApp(g, AppOptions{}).RunExport(input, frame, format, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Recording file (JSON lines)")
	cmd.Flags().IntVarP(&frame, "frame", "n", 0, "Frame index in the recording")
	cmd.Flags().StringVarP(&format, "format", "f", "svg", "Output format: svg or png")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default overlay.<format>)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func printSummary(w io.Writer, s ReplaySummary) error {
	fmt.Fprintf(w, "Frames:   %d\n", s.Frames)
	fmt.Fprintf(w, "Measured: %d\n", s.Measured)
	fmt.Fprintf(w, "Losses:   %d\n", s.Losses)
	fmt.Fprintf(w, "State:    %s\n", s.FinalState)
	cal, err := json.Marshal(s.Calibration)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Calibration: %s\n", cal)
	return nil
}
