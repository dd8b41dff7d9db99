package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// SegmentGlob matches the segment files of a data directory.
const SegmentGlob = "seg_*.msgpack"

// ResolveDataDir finds the directory holding segment files. Candidates in
// order: userPath as given, relative to the executable, relative to the
// working directory, then data/ next to the executable and in configDir.
func ResolveDataDir(userPath, configDir string) (string, error) {
	var candidates []string
	if filepath.IsAbs(userPath) {
		candidates = append(candidates, userPath)
	} else {
		execDir, err := GetExecutableDir()
		if err == nil {
			candidates = append(candidates, filepath.Join(execDir, userPath))
		}
		if cwd, err := os.Getwd(); err == nil {
			candidates = append(candidates, filepath.Join(cwd, userPath))
		}
		if err == nil {
			candidates = append(candidates,
				filepath.Join(execDir, "data"),
				filepath.Join(filepath.Dir(execDir), "data"))
		}
	}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "data"))
	}

	for _, dir := range candidates {
		if HasSegments(dir) {
			log.Debugf("Found data directory: %s", dir)
			return dir, nil
		}
		log.Debugf("Data directory candidate not valid: %s", dir)
	}
	return "", fmt.Errorf("no %s files found for data dir %q (tried %d locations)", SegmentGlob, userPath, len(candidates))
}

// HasSegments reports whether dir contains at least one segment file.
func HasSegments(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, SegmentGlob))
	return err == nil && len(matches) > 0
}
