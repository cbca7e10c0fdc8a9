package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/config"
	"github.com/ecyb/daynight-tracking/internal/dispatch"
	"github.com/ecyb/daynight-tracking/internal/session"
	"github.com/ecyb/daynight-tracking/internal/signals"
	"github.com/ecyb/daynight-tracking/internal/utils"
)

var (
	// Global flags
	projectRoot string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "daynight",
	Short: "Behavioral emotion tracking engine",
	Long: `daynight turns page interactions into an inferred emotional state
(neutral, hesitation, frustration, conversion) and ships the recorded
behaviour to a collection endpoint.

Run without a subcommand to start the API server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collection and reporting API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a random value for server.session_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, encoded, err := utils.NewSessionKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), encoded)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root containing the config directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "JSON lines file of raw page events (required)")
	replayCmd.Flags().BoolVar(&replaySend, "send", false, "deliver batches through the configured transport")
	_ = replayCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, replayCmd, keygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sessionConfig maps the loaded configuration onto what the session manager
// hands to new sessions.
func sessionConfig(c *config.Config) session.Config {
	return session.Config{
		TrackingID: c.Tracker.TrackingID,
		ProjectID:  c.Tracker.ProjectID,
		Thresholds: signals.Thresholds{
			RageClickWindow:  c.Engine.RageClickWindow,
			ScrollStallAfter: c.Engine.ScrollStallAfter,
			IdleAfter:        c.Engine.IdleAfter,
			BacktrackDepth:   c.Engine.BacktrackDepth,
			FormChurnLimit:   c.Engine.FormChurnLimit,
			ClickableClasses: c.Engine.ClickableClasses,
		},
		ThrottleInterval: c.Engine.ThrottleInterval,
		FlushSize:        c.Dispatch.FlushSize,
		Dispatch: dispatch.Config{
			MaxAttempts:  c.Dispatch.MaxAttempts,
			BaseDelay:    c.Dispatch.BaseDelay,
			MaxDelay:     c.Dispatch.MaxDelay,
			HistoryLimit: c.Dispatch.HistoryLimit,
			SendTimeout:  c.Dispatch.Timeout,
		},
		SessionTTL: c.Engine.SessionTTL,
	}
}

// newSink builds the transport named by dispatch.transport. The returned
// cleanup releases broker connections and is always safe to call.
func newSink(ctx context.Context, log *zap.Logger, c *config.Config) (dispatch.Sink, func(), error) {
	switch c.Dispatch.Transport {
	case config.TransportHTTP:
		return dispatch.NewHTTPSink(c.Dispatch.Endpoint, c.Dispatch.Timeout, c.Dispatch.Compress), func() {}, nil
	case config.TransportMQTT:
		sink := dispatch.NewMQTTSink(log, dispatch.MQTTConfig{
			Broker:   c.MQTT.Broker,
			ClientID: c.MQTT.ClientID,
			Topic:    c.MQTT.Topic,
			QoS:      c.MQTT.QoS,
		})
		connectCtx, cancel := context.WithTimeout(ctx, c.Dispatch.Timeout)
		defer cancel()
		if err := sink.Connect(connectCtx); err != nil {
			sink.Disconnect()
			return nil, nil, err
		}
		return sink, sink.Disconnect, nil
	case config.TransportNone:
		return dispatch.NopSink{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown dispatch transport %q", c.Dispatch.Transport)
	}
}
