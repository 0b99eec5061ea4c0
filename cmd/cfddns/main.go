package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dyndns-tools/cfddns"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flags = struct {
	Config    string
	TokenFile string
	Once      bool
	Verbose   bool
}{}

var rootCmd = &cobra.Command{
	Use:          "cfddns",
	Short:        "Keep Cloudflare DNS records pointed at this machine's public IP",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&flags.Config, "config", "c", defaultConfigPath(), "Path to the config file (YAML or JSON)")
	rootCmd.Flags().StringVar(&flags.TokenFile, "token-file", "", "File holding a Cloudflare API token, exposed to the config as $CF_DDNS_API_TOKEN")
	rootCmd.Flags().BoolVar(&flags.Once, "once", false, "Run a single update cycle and exit")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(flags.Verbose)
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer logger.Sync()

	if flags.TokenFile != "" {
		key, err := readKey(flags.TokenFile)
		if err != nil {
			return fmt.Errorf("error reading token file: %w", err)
		}
		os.Setenv("CF_DDNS_API_TOKEN", key)
	}

	cfg, err := ddns.LoadConfig(flags.Config)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		zap.String("path", flags.Config),
		zap.Int("accounts", len(cfg.Accounts)),
		zap.Int("ttl", cfg.EffectiveTTL()),
	)

	updater, err := ddns.New(cfg, ddns.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("error creating updater: %w", err)
	}

	if flags.Once {
		updater.RunOnce(cmd.Context())
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return updater.Run(ctx)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func defaultConfigPath() string {
	if dir := os.Getenv("CONFIG_PATH"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return "config.yaml"
}

func readKey(path string) (key string, err error) {
	if err := verifyPermissions(path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return string(keyb), nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}

	return nil
}
