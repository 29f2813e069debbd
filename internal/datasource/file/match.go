package file

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/spf13/afero"
)

// chunkSuffix marks chunk files left behind by an interrupted split.
var chunkSuffix = regexp.MustCompile(`#(?:[a-z0-9_]+#)?\d+$`)

// Rule assigns files to a stream. Pattern is matched against the base name
// and must be anchored by the caller if it should only match at the start.
type Rule struct {
	Stream  string
	Pattern *regexp.Regexp
}

// Group is the set of files of one stream, sorted by path.
type Group struct {
	Stream string
	Files  []string
}

// Match lists the regular files directly inside dir and groups them by the
// rules they match. A file may belong to several streams. Groups come back
// in stream name order; streams without files are omitted.
func Match(fsys afero.Fs, dir string, rules []Rule) ([]Group, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	byStream := map[string][]string{}
	for _, e := range entries {
		if !e.Mode().IsRegular() || chunkSuffix.MatchString(e.Name()) {
			continue
		}
		for _, r := range rules {
			if r.Pattern != nil && r.Pattern.MatchString(e.Name()) {
				byStream[r.Stream] = append(byStream[r.Stream], filepath.Join(dir, e.Name()))
			}
		}
	}

	out := make([]Group, 0, len(byStream))
	for stream, files := range byStream {
		sort.Strings(files)
		out = append(out, Group{Stream: stream, Files: files})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}
