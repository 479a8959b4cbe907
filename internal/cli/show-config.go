package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/absfs/branchfs/config"
)

func showConfig() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "show-config",
		Short: "Show the configuration derived from files, environment and flags",
		Long: `Show the configuration derived from files, environment and flags.

The derived configuration is rendered in YAML.
`,
		Example: `  branchfs show-config -c config.yaml --dirs /srv/rw=RW:/srv/base=RO`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return ShowConfigCmd(cmd.OutOrStdout(), cfg)
		},
	}
	flags.register(cmd)

	return cmd
}

func ShowConfigCmd(w io.Writer, cfg *config.Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode YAML document: %w", err)
	}

	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write YAML document: %w", err)
	}

	return nil
}
