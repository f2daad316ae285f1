// Package cli implements the ocidist command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/ocidist"
	"github.com/meigma/ocidist/cmd/ocidist/cli/config"
	"github.com/meigma/ocidist/core"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ocidist",
	Short: "Pull and push images to OCI registries",
	Long: `ocidist is a CLI for transferring OCI images between registries and a local
OCI Image Layout directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().Bool("insecure", false, "allow plain-HTTP registry connections")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose debug logging")
	rootCmd.PersistentFlags().Int("concurrency", 0, "number of blobs transferred concurrently (0 uses the client default)")
	rootCmd.PersistentFlags().String("progress", "auto", "progress display mode: auto, tty, plain")

	//nolint:errcheck // flags are defined above, so Lookup will never return nil
	viper.BindPFlag("insecure", rootCmd.PersistentFlags().Lookup("insecure"))
	//nolint:errcheck
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	//nolint:errcheck
	viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	//nolint:errcheck
	viper.BindPFlag("progress", rootCmd.PersistentFlags().Lookup("progress"))

	rootCmd.Version = version
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := config.Dir()
		if err == nil {
			viper.AddConfigPath(configDir)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OCIDIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config:", viper.ConfigFileUsed())
		}
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// newClient creates an ocidist Client with configured options.
func newClient(registryHost, repoUser, repoPass string) (*ocidist.Client, error) {
	opts := []ocidist.ClientOption{
		ocidist.WithInsecure(viper.GetBool("insecure")),
		ocidist.WithUserAgent(fmt.Sprintf("ocidist/%s", version)),
	}

	if viper.GetBool("verbose") {
		opts = append(opts, ocidist.WithLogger(
			slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
		))
	}

	if n := viper.GetInt("concurrency"); n > 0 {
		opts = append(opts, ocidist.WithConcurrency(n))
	}

	if repoUser != "" {
		opts = append(opts, ocidist.WithCredentials(registryHost, repoUser, repoPass))
	}

	return ocidist.NewClient(opts...)
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts ocidist errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	var invalidRegistry *core.InvalidRegistryError
	var invalidRepo *core.InvalidRepositoryError
	var invalidTag *core.InvalidTagError
	var sizeMismatch *core.SizeMismatchError
	var digestMismatch *core.DigestMismatchError

	switch {
	case errors.As(err, &invalidRegistry), errors.As(err, &invalidRepo), errors.As(err, &invalidTag):
		return fmt.Sprintf("Error: invalid reference: %v", err)
	case errors.Is(err, core.ErrBlobNotFound), errors.Is(err, core.ErrDescriptorNotFound):
		return fmt.Sprintf("Error: not found: %v", err)
	case errors.Is(err, core.ErrPlatformNotFound):
		return "Error: no manifest matches the requested platform"
	case errors.As(err, &sizeMismatch), errors.As(err, &digestMismatch):
		return fmt.Sprintf("Error: transfer verification failed: %v", err)
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// registryHost extracts the registry host from a reference string, for use
// before the reference has been parsed by the operation it is passed to.
func registryHost(refStr string) string {
	host, _, _ := strings.Cut(refStr, "/")
	return host
}
