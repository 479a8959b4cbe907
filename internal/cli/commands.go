// Package cli implements the branchfs command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/absfs/branchfs/config"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "branchfs",
		Short:             "Union filesystem with copy-on-write branches",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	cmd.AddCommand(mountCmd())
	cmd.AddCommand(lsCmd())
	cmd.AddCommand(showConfig())

	return cmd
}

// configFlags are the flags every command uses to build a configuration.
type configFlags struct {
	path string
}

func (c *configFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&c.path, "config", "c", "", "path to the configuration file (default "+config.GetDefaultConfigPath()+")")
	f.String("dirs", "", "branches as /a=RW:/b=RO, highest priority first")
	f.String("chroot", "", "directory prepended to every branch path")
	f.Bool("cow", true, "copy files to a writable branch before modifying them")
	f.Bool("statfs-omit-ro", false, "leave read-only branches out of free space reports")
	f.Bool("hide-meta-files", false, "hide .fuse_hidden files from listings")
	f.String("log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	f.String("log-format", "", "log format: text, json or logfmt")
}

func (c *configFlags) load(cmd *cobra.Command) (*config.Config, error) {
	return config.LoadWithFlags(c.path, cmd.Flags())
}
