package cli

import (
	"fmt"
	"io"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/absfs/branchfs"
)

func lsCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory of the union without mounting it",
		Long: `List a directory of the union without mounting it.

Each entry is shown with the branch it is served from.
`,
		Example: `  branchfs ls --dirs /srv/rw=RW:/srv/base=RO /etc`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			fsys, err := branchfs.New(cfg.Options()...)
			if err != nil {
				return err
			}
			defer fsys.Close()

			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			return ListCmd(cmd.OutOrStdout(), fsys, dir)
		},
	}
	flags.register(cmd)

	return cmd
}

// ListCmd writes the merged listing of dir with the serving branch of
// every entry.
func ListCmd(w io.Writer, fsys *branchfs.FS, dir string) error {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, entry := range infos {
		p := path.Join("/", dir, entry.Name())
		r, err := fsys.ResolveAny(p)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", info.Mode(), r.Branch, entry.Name(), info.Size())
	}
	return tw.Flush()
}
