package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var setupFlags = struct {
	KeyFile string
}{}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively verify and store a Cloudflare API token",
	RunE:  runSetup,
}

func init() {
	setupCmd.Flags().StringVarP(&setupFlags.KeyFile, "key-file", "k", filepath.Join(os.Getenv("HOME"), ".cloudflare"), "Path to write the API token")
}

func runSetup(cmd *cobra.Command, _ []string) error {
	fmt.Printf("Enter Cloudflare API token: \n")
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	key := string(bytekey)

	api, err := cloudflare.NewWithAPIToken(key)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}

	f, err := os.OpenFile(setupFlags.KeyFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", setupFlags.KeyFile, err)
	}
	defer f.Close()
	fmt.Fprintln(f, key)
	fmt.Printf("token written to \"%s\"\n", setupFlags.KeyFile)
	fmt.Printf("run with --token-file \"%s\" and reference $CF_DDNS_API_TOKEN in the config\n", setupFlags.KeyFile)
	return nil
}
