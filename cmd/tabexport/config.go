package main

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	var (
		env     bool
		export  bool
		secrets bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and TABEXPORT_* overrides are
applied, as YAML or, with --env, as environment assignments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if env {
				return a.cfg.WriteEnv(cmd.OutOrStdout(), export, secrets)
			}
			c := *a.cfg
			if !secrets {
				c.Server.Secret = redact(c.Server.Secret)
				c.Server.APIKey = redact(c.Server.APIKey)
			}
			return c.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&env, "env", false, "print TABEXPORT_* assignments instead of YAML")
	cmd.Flags().BoolVar(&export, "export", false, "prefix assignments with export")
	cmd.Flags().BoolVar(&secrets, "secrets", false, "include the server secret and API key")
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
