// Package fileset resolves path patterns against a project tree and writes
// task outputs.
//
// Patterns are doublestar globs with forward slashes, relative to the
// project root: "static/scss/**/*.scss", "static/img/**/*.{png,svg}".
package fileset

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// SkipDirs are directory names never descended into while expanding patterns.
var SkipDirs = []string{".git", "node_modules"}

// Set is a list of include patterns minus exclude patterns.
type Set struct {
	Include []string
	Exclude []string
}

// Match reports whether the relative slash path rel is selected by the set.
func (s Set) Match(rel string) bool {
	rel = normalize(rel)
	if !matchAny(s.Include, rel) {
		return false
	}
	return !matchAny(s.Exclude, rel)
}

// Rebase maps rel into dest relative to the base of the first include
// pattern selecting it.
func (s Set) Rebase(rel, dest string) string {
	rel = normalize(rel)
	for _, p := range s.Include {
		if ok, err := doublestar.Match(normalize(p), rel); err == nil && ok {
			return Rebase(rel, p, dest)
		}
	}
	return path.Join(normalize(dest), path.Base(rel))
}

// Expand returns the sorted relative paths of the regular files under root
// selected by the set. No match is not an error.
func (s Set) Expand(root string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, pattern := range s.Include {
		base := Base(pattern)
		start := filepath.Join(root, filepath.FromSlash(base))
		info, err := os.Stat(start)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", start, err)
		}
		if !info.IsDir() {
			if rel := normalize(base); s.Match(rel) && !seen[rel] {
				seen[rel] = true
				out = append(out, rel)
			}
			continue
		}

		err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != start && isSkipped(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] && s.Match(rel) {
				seen[rel] = true
				out = append(out, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", start, err)
		}
	}

	sort.Strings(out)
	return out, nil
}

// Base returns the directory prefix of pattern that contains no glob syntax.
// "static/scss/**/*.scss" has base "static/scss"; "**/*.php" has base ".".
func Base(pattern string) string {
	pattern = normalize(pattern)
	parts := strings.Split(pattern, "/")
	var fixed []string
	for _, p := range parts {
		if strings.ContainsAny(p, "*?[{\\") {
			break
		}
		fixed = append(fixed, p)
	}
	if len(fixed) == len(parts) {
		// No glob syntax at all: the pattern names a file or directory.
		return pattern
	}
	if len(fixed) == 0 {
		return "."
	}
	return path.Join(fixed...)
}

// WriteFile writes data to root/rel unless the file already holds exactly
// data. It reports whether the file was written.
func WriteFile(root, rel string, data []byte) (bool, error) {
	dst := filepath.Join(root, filepath.FromSlash(rel))
	if current, err := os.ReadFile(dst); err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, fmt.Errorf("create dir for %s: %w", rel, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", rel, err)
	}
	return true, nil
}

// Remove deletes root/rel. A missing file is not an error.
func Remove(root, rel string) (bool, error) {
	err := os.Remove(filepath.Join(root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Rebase maps src, which lives under the base of pattern, into dest while
// keeping its path relative to that base.
func Rebase(src, pattern, dest string) string {
	base := Base(pattern)
	rel := normalize(src)
	if rel == base {
		return path.Join(normalize(dest), path.Base(rel))
	}
	if base != "." {
		rel = strings.TrimPrefix(rel, base+"/")
	}
	return path.Join(normalize(dest), rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		ok, err := doublestar.Match(normalize(p), rel)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func isSkipped(name string) bool {
	for _, s := range SkipDirs {
		if name == s {
			return true
		}
	}
	return false
}

func normalize(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return "."
	}
	return p
}
