package embedded

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"forgefuzz/internal/module"
)

// targetPatterns are matched case-sensitively against the file name with
// its extension stripped.
var targetPatterns = []string{"fuzz_*", "*_fuzz", "fuzz_target"}

// DiscoverTargets walks the workspace and returns every file whose name
// matches a fuzz entry pattern, sorted lexicographically by full path.
func DiscoverTargets(workspace string) ([]string, error) {
	var targets []string
	err := filepath.WalkDir(workspace, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		for _, pattern := range targetPatterns {
			if ok, _ := path.Match(pattern, stem); ok {
				targets = append(targets, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, module.ErrNoTargetFound
	}
	sort.Strings(targets)
	return targets, nil
}
