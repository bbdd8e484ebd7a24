package main

import (
	"github.com/spf13/cobra"

	"github.com/atinyakov/memberauth/internal/config"
)

// NewRootCmd creates the root command. Without a subcommand it serves the site.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memberauth",
		Short: "Member site with registration, login and profiles",
		Long: `memberauth serves a small member site: visitors register, log in
(optionally staying remembered on the browser), update their details and
view each other's profiles.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCertgenCmd())

	return cmd
}
