package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/face-compare/internal/config"
	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/grpcclient"
	"github.com/example/face-compare/internal/logging"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "face-compare",
		Short: "Match faces between two images or two videos",
		Long: `face-compare checks whether the faces found in one image or video are still
recognisable in another one, for example to verify that an anonymized copy no
longer matches the original. Face detection and encoding are delegated to a
gRPC face detector service.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env file is optional, don't fail if not found
			_ = godotenv.Load()
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (default: $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Human readable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newVideosCmd(opts),
		newPhotosCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var logger *zap.Logger
	if o.debug {
		logger, err = logging.NewDevelopmentLogger()
	} else {
		logger, err = logging.NewLogger()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func dialDetector(ctx context.Context, cfg config.DetectorConfig, logger *zap.Logger) (detector.Detector, *grpc.ClientConn, error) {
	det, conn, err := grpcclient.DialDetector(ctx, cfg.Addr, cfg.DialTimeout, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to face detector at %s: %w", cfg.Addr, err)
	}
	return det, conn, nil
}
