// Package discover enumerates input files for a batch run.
package discover

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Files walks root recursively and returns the absolute paths of all regular
// files whose name ends in ext (e.g. ".json").
//
// The order is the lexical walk order, which is stable across runs; the
// driver processes files in exactly this order.
//
// Edge cases:
//   - A missing or unreadable root is an error (the run cannot know its
//     input set, so there is nothing sensible to continue with).
//   - Directories named like matching files are ignored.
func Files(root, ext string) ([]string, error) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("discover: resolve root %s: %w", root, err)
	}

	var out []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover: walk %s: %w", absRoot, err)
	}
	return out, nil
}
