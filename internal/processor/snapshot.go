package processor

import (
	"os"
	"path/filepath"
	"strings"

	"conftree/pkg/logging"
)

// preprocessedSuffix marks a snapshot written next to the base file itself,
// so it is never mistaken for a hand-written config.
const preprocessedSuffix = "-preprocessed"

// preprocessedDirName is the subdirectory created under a pinned or derived
// snapshot root.
const preprocessedDirName = "preprocessed_configs"

// IsPreprocessedFile reports whether path names a preprocessed snapshot.
// Recognition is purely a filename convention: the name without extension
// ends with the preprocessed suffix.
func IsPreprocessedFile(path string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasSuffix(stem, preprocessedSuffix)
}

// SnapshotPath returns the memoized snapshot output path, or "" if no
// snapshot has been saved yet.
func (p *Processor) SnapshotPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotPath
}

// SavePreprocessed persists the resolved tree as the preprocessed snapshot.
// The output path is computed on the first call and reused afterwards.
// Persistence is best-effort: any failure is logged and swallowed, never
// affecting the loaded configuration.
func (p *Processor) SavePreprocessed(loaded *LoadedConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshotPath == "" {
		p.snapshotPath = p.computeSnapshotPath(loaded)
		if parent := filepath.Dir(p.snapshotPath); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0755); err != nil {
				logging.Warn(logSubsystem, "Couldn't create preprocessed config directory %s: %v", parent, err)
				return
			}
		}
	}

	// Indent a copy so the in-memory tree keeps its original whitespace.
	out := loaded.Tree.Copy()
	out.Indent(4)
	if err := out.WriteToFile(p.snapshotPath); err != nil {
		logging.Warn(logSubsystem, "Couldn't save preprocessed config to %s: %v", p.snapshotPath, err)
		return
	}
	logging.Debug(logSubsystem, "Saved preprocessed configuration to '%s'.", p.snapshotPath)
}

// computeSnapshotPath derives the snapshot location. Directory precedence:
// the pinned snapshot dir, then the `path` setting inside the resolved tree,
// then the base file's own parent directory. The file name mirrors the base
// path with separators flattened and the extension normalized to .xml; the
// preprocessed suffix is added only in the parent-directory branch, where
// the snapshot would otherwise sit beside the original under a similar name.
func (p *Processor) computeSnapshotPath(loaded *LoadedConfig) string {
	name := loaded.Path
	if p.basePathPrefix != "" && strings.HasPrefix(name, p.basePathPrefix) {
		name = name[len(p.basePathPrefix):]
	}
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	// A YAML base file would otherwise bequeath its extension to a snapshot
	// that is serialized as XML.
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ".xml"

	dir := p.snapshotDir
	switch {
	case dir != "":
		dir = filepath.Join(dir, preprocessedDirName)
	case p.treePathSetting(loaded) != "":
		dir = filepath.Join(p.treePathSetting(loaded), preprocessedDirName)
	default:
		dir = filepath.Dir(loaded.Path)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		name = stem + preprocessedSuffix + filepath.Ext(name)
	}
	return filepath.Join(dir, name)
}

// treePathSetting reads the root-level `path` setting of the resolved tree,
// the server's data directory, which doubles as the snapshot root.
func (p *Processor) treePathSetting(loaded *LoadedConfig) string {
	if loaded.Tree == nil {
		return ""
	}
	root := loaded.Tree.Root()
	if root == nil {
		return ""
	}
	el := root.SelectElement("path")
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
