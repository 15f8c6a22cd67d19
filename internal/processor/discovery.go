package processor

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"conftree/internal/document"
)

// overrideDirName is the shared override directory probed beside every base
// configuration file, in addition to the file's own <stem>.d directory.
const overrideDirName = "conf.d"

// OverrideDirs returns the directories probed for override fragments of the
// given base configuration path: <stem>.d and conf.d beside the base file.
func OverrideDirs(configPath string) []string {
	parent := filepath.Dir(configPath)
	stem := strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))

	dirs := []string{filepath.Join(parent, stem+".d")}
	if confDir := filepath.Join(parent, overrideDirName); confDir != dirs[0] {
		dirs = append(dirs, confDir)
	}
	return dirs
}

// MergeFiles finds the override fragments for the given base configuration
// path. Two sibling directories are probed: <stem>.d and conf.d. Candidates
// are regular files with one of the recognized extensions (case-insensitive)
// whose names do not start with a dot. The result is sorted ascending by
// full path so merge order is deterministic.
func MergeFiles(configPath string) ([]string, error) {
	var files []string
	for _, dir := range OverrideDirs(configPath) {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			// Stat rather than entry.Type so symlinked fragments count.
			fi, err := os.Stat(path)
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
			name := entry.Name()
			base := strings.TrimSuffix(name, filepath.Ext(name))
			if strings.HasPrefix(base, ".") {
				continue
			}
			if document.DetectFormat(name) == document.FormatUnknown || filepath.Ext(name) == "" {
				continue
			}
			files = append(files, path)
		}
	}

	sort.Strings(files)
	return files, nil
}
