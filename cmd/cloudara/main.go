package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/Sid-Lais/cloudara/pkg/api/client"
	"github.com/Sid-Lais/cloudara/pkg/config"
)

var buildVersion = "dev"

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	apiURL     string
	output     string

	cfg    cliConfig
	client *apiclient.Client
	out    printer

	pollEvery time.Duration
	grace     time.Duration
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, pollEvery: 2 * time.Second, grace: time.Second}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "cloudara",
		Short:             "Deploy static sites from git repositories",
		Version:           strings.TrimSpace(buildVersion),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/cloudara/config.yaml)")
	root.PersistentFlags().StringVar(&a.apiURL, "api", "", "API base URL")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "", "output format: table or json")
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		newProjectCmd(a),
		newDeployCmd(a),
		newStatusCmd(a),
		newLogsCmd(a),
		newStuckCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configPath == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return fmt.Errorf("locate config: %w", err)
		}
		a.configPath = path
	}
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	base := config.GetString("CLOUDARA_API_URL", cfg.APIURL)
	if a.apiURL != "" {
		base = a.apiURL
	}
	a.client, err = apiclient.New(base, apiclient.WithTimeout(30*time.Second))
	if err != nil {
		return err
	}

	mode := cfg.Output
	if a.output != "" {
		mode = a.output
	}
	switch mode {
	case "", "json", "table":
	default:
		return fmt.Errorf("--output must be table or json, got %q", mode)
	}
	a.out = newPrinter(a.stdout, mode)
	return nil
}
