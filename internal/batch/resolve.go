package batch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Epistemic-Technology/vision-ocr/models"
)

// Extensions are the file suffixes picked up when a directory is expanded.
// Matching is case-sensitive.
var Extensions = []string{".png", ".jpg", ".jpeg", ".pdf", ".tiff"}

// Resolve turns caller inputs into processing units. Remote references pass
// through, directories are expanded, and existing files are kept. Inputs that
// are none of these are returned separately as dropped; they never become
// units.
func Resolve(inputs []models.SourceReference, recursive bool) (units, dropped []models.SourceReference) {
	seen := make(map[models.SourceReference]bool)
	add := func(ref models.SourceReference) {
		if !seen[ref] {
			seen[ref] = true
			units = append(units, ref)
		}
	}

	for _, in := range inputs {
		if in.IsRemote() {
			add(in)
			continue
		}
		info, err := os.Stat(string(in))
		if err != nil {
			dropped = append(dropped, in)
			continue
		}
		if !info.IsDir() {
			add(in)
			continue
		}
		for _, path := range expandDir(string(in), recursive) {
			add(models.SourceReference(path))
		}
	}
	return units, dropped
}

func expandDir(dir string, recursive bool) []string {
	var paths []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			if e.Type().IsRegular() && hasImageExtension(e.Name()) {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		return paths
	}

	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && hasImageExtension(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths
}

func hasImageExtension(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
