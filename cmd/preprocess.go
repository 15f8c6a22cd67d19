package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"conftree/internal/processor"
)

// newPreprocessCmd creates the command that runs the pipeline once and
// emits the fully-resolved document.
func newPreprocessCmd() *cobra.Command {
	var flags pipelineFlags
	var output string
	var saveSnapshot bool
	var fallback bool

	cmd := &cobra.Command{
		Use:   "preprocess <config-file>",
		Short: "Resolve a configuration file into a single document",
		Long: `Runs the full preprocessing pipeline: loads the base file, merges override
fragments from <stem>.d and conf.d in sorted order, resolves incl/from_zk/
from_env include directives, and prints the resulting document.

Without --redis, from_zk directives are left in place unresolved.`,
		Args: cobra.ExactArgs(1),
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

			var loaded *processor.LoadedConfig
			if cache != nil {
				loaded, err = proc.LoadWithCoordination(cache, nil, fallback)
			} else {
				loaded, err = proc.Load(true)
			}
			if err != nil {
				return err
			}

			if saveSnapshot {
				proc.SavePreprocessed(loaded)
			}

			if output != "" {
				return loaded.Tree.WriteToFile(output)
			}
			_, err = loaded.Tree.WriteTo(os.Stdout)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the resolved document to this file instead of stdout")
	cmd.Flags().BoolVar(&saveSnapshot, "save-snapshot", false, "persist the result as the preprocessed snapshot")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "serve the last snapshot if the coordination service fails")
	return cmd
}
