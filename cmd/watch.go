package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"conftree/internal/reload"
)

// newWatchCmd creates the command that keeps a configuration loaded and
// reprocesses it whenever a source file or coordination key changes.
func newWatchCmd() *cobra.Command {
	var flags pipelineFlags
	var saveSnapshot bool
	var fallback bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <config-file>",
		Short: "Reload a configuration whenever its sources change",
		Long: `Loads the configuration, then watches the base file, its override
directories and any referenced coordination keys. Each change triggers a
debounced reload; the outcome of every attempt is printed.

Interrupt with Ctrl-C to stop.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr := reload.NewManager(proc, reload.Options{
				Cache:              cache,
				FallbackToSnapshot: fallback,
				SaveSnapshot:       saveSnapshot,
				Debounce:           debounce,
			})
			mgr.OnReload(func(ev reload.Event) {
				stamp := ev.Timestamp.Format(time.RFC3339)
				if ev.Err != nil {
					fmt.Fprintf(os.Stderr, "%s reload %s (%s) failed: %v\n", stamp, ev.ID, ev.Trigger, ev.Err)
					return
				}
				source := ""
				if ev.Path != "" {
					source = " after change to " + ev.Path
				}
				fmt.Printf("%s reload %s (%s) ok%s\n", stamp, ev.ID, ev.Trigger, source)
			})

			if err := mgr.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "initial load failed: %v\n", err)
			}
			defer mgr.Stop()

			<-ctx.Done()
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&saveSnapshot, "save-snapshot", false, "persist each successful result as the preprocessed snapshot")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "serve the last snapshot if the coordination service fails")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "how long to wait for further file changes before reloading")
	return cmd
}
