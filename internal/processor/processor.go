package processor

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/beevik/etree"

	"conftree/internal/coordination"
	"conftree/internal/document"
	"conftree/internal/include"
	"conftree/internal/merge"
	"conftree/pkg/logging"
)

const logSubsystem = "Processor"

// includeFromTag is the root-level element naming the include-source file.
const includeFromTag = "include_from"

// defaultIncludeFromPath is probed when no include_from element is present.
const defaultIncludeFromPath = "/etc/conftree/include.xml"

// Processor runs the preprocessing pipeline for one base configuration path.
type Processor struct {
	path           string
	strict         bool
	substitutions  []include.Substitution
	snapshotDir    string
	basePathPrefix string

	// snapshotPath is computed once, on the first SavePreprocessed call,
	// and reused for both later saves and fallback loads.
	mu           sync.Mutex
	snapshotPath string
}

// Option configures a Processor.
type Option func(*Processor)

// WithStrictIncludes makes unresolvable non-optional directives fatal.
func WithStrictIncludes() Option {
	return func(p *Processor) { p.strict = true }
}

// WithSubstitutions sets the literal text substitution table.
func WithSubstitutions(subs []include.Substitution) Option {
	return func(p *Processor) { p.substitutions = subs }
}

// WithSnapshotDir pins the directory preprocessed snapshots are written
// under. When unset the directory is derived from the resolved tree's `path`
// setting or, failing that, the base file's own directory.
func WithSnapshotDir(dir string) Option {
	return func(p *Processor) { p.snapshotDir = dir }
}

// WithBasePathPrefix sets the prefix trimmed from the base path when deriving
// the snapshot file name, keeping names short for configs below a common
// configuration root.
func WithBasePathPrefix(prefix string) Option {
	return func(p *Processor) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		p.basePathPrefix = prefix
	}
}

// New creates a Processor for the given base configuration path.
func New(path string, opts ...Option) *Processor {
	p := &Processor{path: path}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path returns the base configuration path the processor was built for.
func (p *Processor) Path() string { return p.path }

// LoadedConfig is the result of a full pipeline run.
type LoadedConfig struct {
	// Tree is the fully resolved configuration document.
	Tree *etree.Document
	// HasDynamicIncludes reports whether any from_zk directive was seen;
	// such a configuration can change without any file changing.
	HasDynamicIncludes bool
	// LoadedFromFallback is set when live resolution failed on a
	// coordination error and the last preprocessed snapshot was returned
	// instead.
	LoadedFromFallback bool
	// Path is the base configuration path.
	Path string
	// ContributingFiles lists every file that contributed to the result, in
	// the order they were consumed.
	ContributingFiles []string
	// ContributingKeys lists every coordination key referenced, sorted.
	ContributingKeys []string
}

// ProcessConfig runs the pipeline once: load, merge fragments, resolve
// includes, annotate provenance. cache may be nil, in which case from_zk
// directives are deferred; watch is the change signal handed to every cache
// lookup.
func (p *Processor) ProcessConfig(cache coordination.Cache, watch chan<- struct{}) (*LoadedConfig, error) {
	logging.Debug(logSubsystem, "Processing configuration file '%s'.", p.path)

	config, err := p.loadBase()
	if err != nil {
		return nil, err
	}

	contributingFiles := []string{p.path}

	fragments, err := MergeFiles(p.path)
	if err != nil {
		return nil, fmt.Errorf("discovering override fragments for '%s': %w", p.path, err)
	}
	for _, fragment := range fragments {
		logging.Debug(logSubsystem, "Merging configuration file '%s'.", fragment)

		overlay, err := document.LoadFile(fragment)
		if err == nil {
			err = merge.Merge(config, overlay)
		}
		if err != nil {
			return nil, fmt.Errorf("while merging config '%s' with '%s': %w", p.path, fragment, err)
		}
		contributingFiles = append(contributingFiles, fragment)
	}

	resolver := &include.Resolver{Strict: p.strict, Substitutions: p.substitutions}
	contributingKeys := make(map[string]struct{})

	root, err := document.Root(config)
	if err != nil {
		return nil, fmt.Errorf("while preprocessing config '%s': %w", p.path, err)
	}

	includeFromPath := ""
	if node := root.SelectElement(includeFromTag); node != nil {
		// The include-source path may itself be parameterized, so resolve
		// the element's own directives before reading it.
		if err := resolver.Resolve(node, nil, cache, watch, contributingKeys); err != nil {
			return nil, fmt.Errorf("while preprocessing config '%s': %w", p.path, err)
		}
		includeFromPath = node.Text()
	} else if _, err := os.Stat(defaultIncludeFromPath); err == nil {
		includeFromPath = defaultIncludeFromPath
	}

	var includeFromRoot *etree.Element
	if includeFromPath != "" {
		logging.Debug(logSubsystem, "Including configuration file '%s'.", includeFromPath)
		contributingFiles = append(contributingFiles, includeFromPath)

		includeFromDoc, err := document.LoadFile(includeFromPath)
		if err != nil {
			return nil, fmt.Errorf("while preprocessing config '%s': %w", p.path, err)
		}
		includeFromRoot = includeFromDoc.Root()
	}

	if err := resolver.Resolve(root, includeFromRoot, cache, watch, contributingKeys); err != nil {
		return nil, fmt.Errorf("while preprocessing config '%s': %w", p.path, err)
	}

	keys := make([]string, 0, len(contributingKeys))
	for key := range contributingKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	annotateProvenance(config, contributingFiles, keys, cache != nil)

	return &LoadedConfig{
		Tree:               config,
		HasDynamicIncludes: len(keys) > 0,
		Path:               p.path,
		ContributingFiles:  contributingFiles,
		ContributingKeys:   keys,
	}, nil
}

// loadBase parses the base configuration file, falling back to a compiled-in
// resource when the file is absent and one is registered for the path.
func (p *Processor) loadBase() (*etree.Document, error) {
	if _, err := os.Stat(p.path); err == nil {
		return document.LoadFile(p.path)
	}

	data, ok := document.EmbeddedResource(p.path)
	if !ok {
		return nil, &FileMissingError{Path: p.path}
	}
	logging.Debug(logSubsystem, "There is no file '%s', will use embedded config.", p.path)
	return document.Parse(data, document.FormatXML)
}

// Load runs the pipeline without a coordination cache. When the tree turns
// out to reference coordination keys and allowDynamic is false, loading
// fails: such a config cannot be considered fully resolved.
func (p *Processor) Load(allowDynamic bool) (*LoadedConfig, error) {
	loaded, err := p.ProcessConfig(nil, nil)
	if err != nil {
		return nil, err
	}
	if loaded.HasDynamicIncludes && !allowDynamic {
		return nil, fmt.Errorf("error while loading config '%s': coordination includes are not allowed", p.path)
	}
	return loaded, nil
}

// LoadWithCoordination runs the pipeline with a coordination cache. When the
// run fails, the failure's cause is a coordination-service error, a snapshot
// from an earlier run exists and fallbackToSnapshot is set, the snapshot is
// returned instead, marked LoadedFromFallback. Every other failure
// propagates unchanged.
func (p *Processor) LoadWithCoordination(cache coordination.Cache, watch chan<- struct{}, fallbackToSnapshot bool) (*LoadedConfig, error) {
	loaded, err := p.ProcessConfig(cache, watch)
	if err == nil {
		return loaded, nil
	}
	if !fallbackToSnapshot {
		return nil, err
	}

	var coordErr *coordination.Error
	if !errors.As(err, &coordErr) {
		return nil, err
	}

	p.mu.Lock()
	snapshotPath := p.snapshotPath
	p.mu.Unlock()
	if snapshotPath == "" {
		return nil, err
	}
	if _, statErr := os.Stat(snapshotPath); statErr != nil {
		return nil, err
	}

	logging.Warn(logSubsystem,
		"Error while processing coordination includes: %v. Config will be loaded from preprocessed file: %s",
		coordErr, snapshotPath)

	tree, parseErr := document.LoadFile(snapshotPath)
	if parseErr != nil {
		return nil, err
	}
	return &LoadedConfig{
		Tree:               tree,
		HasDynamicIncludes: true,
		LoadedFromFallback: true,
		Path:               p.path,
	}, nil
}

// annotateProvenance prepends the generated-file notice: a comment listing
// every contributing file and, when a cache took part, every coordination
// key, preceded by a blank line once serialized.
func annotateProvenance(config *etree.Document, files []string, keys []string, usedCache bool) {
	var b strings.Builder
	b.WriteString(" This file was generated automatically.\n")
	b.WriteString("     Do not edit it: it is likely to be discarded and generated again before it's read next time.\n")
	b.WriteString("     Files used to generate this file:")
	for _, file := range files {
		b.WriteString("\n       ")
		b.WriteString(file)
	}
	if usedCache && len(keys) > 0 {
		b.WriteString("\n     Coordination keys used to generate this file:")
		for _, key := range keys {
			b.WriteString("\n       ")
			b.WriteString(key)
		}
	}
	b.WriteString("      ")

	config.InsertChildAt(0, etree.NewText("\n\n"))
	config.InsertChildAt(0, etree.NewComment(b.String()))
}
