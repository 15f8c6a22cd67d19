package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conftree/internal/coordination"
	"conftree/internal/include"
	"conftree/internal/processor"
)

// pipelineFlags are the flags shared by every command that runs the
// preprocessing pipeline.
type pipelineFlags struct {
	strict        bool
	substitutions []string
	snapshotDir   string
	redisAddr     string
	redisPassword string
	redisDB       int
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail on unresolvable non-optional include directives")
	cmd.Flags().StringArrayVar(&f.substitutions, "set", nil, "literal text substitution pattern=replacement (repeatable)")
	cmd.Flags().StringVar(&f.snapshotDir, "snapshot-dir", "", "directory to write preprocessed snapshots under")
	cmd.Flags().StringVar(&f.redisAddr, "redis", "", "redis address of the coordination service (host:port)")
	cmd.Flags().StringVar(&f.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&f.redisDB, "redis-db", 0, "redis database number")
}

// buildProcessor assembles a Processor for the given base path.
func (f *pipelineFlags) buildProcessor(path string) (*processor.Processor, error) {
	var opts []processor.Option
	if f.strict {
		opts = append(opts, processor.WithStrictIncludes())
	}
	if f.snapshotDir != "" {
		opts = append(opts, processor.WithSnapshotDir(f.snapshotDir))
	}

	if len(f.substitutions) > 0 {
		subs := make([]include.Substitution, 0, len(f.substitutions))
		for _, raw := range f.substitutions {
			pattern, replacement, ok := strings.Cut(raw, "=")
			if !ok || pattern == "" {
				return nil, fmt.Errorf("invalid --set value %q, expected pattern=replacement", raw)
			}
			subs = append(subs, include.Substitution{Pattern: pattern, Replacement: replacement})
		}
		opts = append(opts, processor.WithSubstitutions(subs))
	}

	return processor.New(path, opts...), nil
}

// buildCache connects the coordination cache when --redis was given.
// The returned closer is non-nil exactly when a cache was built.
func (f *pipelineFlags) buildCache() (coordination.Cache, func() error, error) {
	if f.redisAddr == "" {
		return nil, nil, nil
	}
	cache, err := coordination.NewRedisCache(coordination.RedisConfig{
		Addr:     f.redisAddr,
		Password: f.redisPassword,
		DB:       f.redisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}
