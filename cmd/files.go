package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newFilesCmd creates the command that lists everything a configuration
// file pulls in: the base file, override fragments, the include source,
// and coordination keys.
func newFilesCmd() *cobra.Command {
	var flags pipelineFlags

	cmd := &cobra.Command{
		Use:   "files <config-file>",
		Short: "List the files and coordination keys a configuration depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := flags.buildProcessor(args[0])
			if err != nil {
				return err
			}

			cache, closer, err := flags.buildCache()
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}

			loaded, err := proc.ProcessConfig(cache, nil)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Source", "Kind"})
			for i, f := range loaded.ContributingFiles {
				kind := "fragment"
				if i == 0 {
					kind = "base"
				}
				t.AppendRow(table.Row{f, kind})
			}
			for _, k := range loaded.ContributingKeys {
				t.AppendRow(table.Row{k, "coordination"})
			}
			t.Render()
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
