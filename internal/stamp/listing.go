// File: internal/stamp/listing.go
// Brief: Directory listings for DirectoryListing nodes.

package stamp

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
)

// List returns the slash-separated paths (relative to dir) of the regular
// files under dir accepted by patterns and not rejected by excludes. An empty
// pattern list accepts every file. Without recursive only dir's immediate
// children are listed; with recursive, slash-free patterns such as "*.cpp"
// match at any depth.
func List(dir string, patterns, excludes []string, recursive bool) ([]string, error) {
	include, err := newMatcher(patterns, recursive)
	if err != nil {
		return nil, fmt.Errorf("listing %s: include patterns: %w", dir, err)
	}
	exclude, err := newMatcher(excludes, recursive)
	if err != nil {
		return nil, fmt.Errorf("listing %s: exclude patterns: %w", dir, err)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if !recursive {
				return fs.SkipDir
			}
			if exclude != nil {
				if ok, err := exclude.MatchesOrParentMatches(rel); err != nil {
					return err
				} else if ok {
					return fs.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if include != nil {
			ok, err := include.MatchesOrParentMatches(rel)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if exclude != nil {
			ok, err := exclude.MatchesOrParentMatches(rel)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func newMatcher(patterns []string, recursive bool) (*patternmatcher.PatternMatcher, error) {
	var cleaned []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if recursive && !strings.Contains(p, "/") && !strings.HasPrefix(p, "!") {
			p = "**/" + p
		}
		cleaned = append(cleaned, filepath.FromSlash(p))
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	return patternmatcher.New(cleaned)
}

// ListingStamp fingerprints a listing by its sorted entry names.
func ListingStamp(files []string) Stamp {
	h := NewHasher("fbuild.listing.v1")
	h.WriteUint64(uint64(len(files)))
	for _, f := range files {
		h.WriteString(f)
	}
	return h.Sum()
}
