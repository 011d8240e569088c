// Command server runs the docket workflow API and its operational commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docket/internal/platform/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "docket",
		Short: "Judicial case workflow service",
		Long: `docket tracks complaints from filing to a signed decision.
Every change goes through one workflow engine that authorizes the actor, checks the
transition tables, applies cascades atomically and writes one audit record.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("database-url", "", "postgres connection URL")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("database.url", root.PersistentFlags().Lookup("database-url"))
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	load := func() (config.Config, error) { return config.Load(v, cfgFile) }

	root.AddCommand(serveCmd(v, load))
	root.AddCommand(migrateCmd(load))
	root.AddCommand(userCmd(load))
	root.AddCommand(tokenCmd(load))
	root.AddCommand(auditCmd(load))
	return root
}

// loader reads the configuration once flags have been parsed.
type loader func() (config.Config, error)
