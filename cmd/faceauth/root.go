package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/capture"
	"github.com/example/face-auth/internal/gatewayclient"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/workflow"
)

type options struct {
	gatewayURL string
	framesDir  string
	collection string
	logLevel   string
	timeout    time.Duration

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "faceauth",
		Short:         "Enroll and sign in with your face",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env file is optional
			_ = godotenv.Load()
			if !cmd.Flags().Changed("gateway") {
				if url := os.Getenv("GATEWAY_URL"); url != "" {
					opts.gatewayURL = url
				}
			}
			logger, err := logging.NewLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.gatewayURL, "gateway", "http://localhost:8080", "gateway base URL (env GATEWAY_URL)")
	flags.StringVar(&opts.framesDir, "frames", "frames", "directory of images served as camera frames")
	flags.StringVar(&opts.collection, "collection", "", "face collection (gateway default when empty)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall time limit")

	cmd.AddCommand(newEnrollCmd(opts), newSignInCmd(opts))
	return cmd
}

func (o *options) camera() *capture.Controller {
	return capture.NewController(capture.NewDirectoryDevice(o.framesDir), capture.WithLogger(o.logger))
}

func (o *options) gateway() *gatewayclient.Client {
	return gatewayclient.New(o.gatewayURL, gatewayclient.WithLogger(o.logger))
}

func (o *options) workflowOptions(extra ...workflow.Option) []workflow.Option {
	return append([]workflow.Option{
		workflow.WithLogger(o.logger),
		workflow.WithCollection(o.collection),
	}, extra...)
}
