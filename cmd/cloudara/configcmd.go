package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change CLI settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.out.emit(map[string]string{"path": a.configPath, "api_url": a.client.BaseURL(), "output": a.cfg.Output},
				[]string{"PATH", "API URL", "OUTPUT"},
				[][]string{{a.configPath, a.client.BaseURL(), orDash(a.cfg.Output)}},
			)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-api <url>",
		Short: "Store the API base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.APIURL = args[0]
			if err := saveConfig(a.configPath, a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "api url saved to %s\n", a.configPath)
			return nil
		},
	})
	return cmd
}
