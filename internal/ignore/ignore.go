// Package ignore loads gitignore-style exclusion rules for repository
// walks.
package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Patterns reads the named ignore files under root, in order, and merges
// their rules into exclusion globs. Missing files are skipped and duplicate
// rules collapse to their first occurrence; a root with no ignore files
// yields nil.
func Patterns(root string, names ...string) ([]string, error) {
	seen := make(map[string]struct{})
	var globs []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			glob, ok := Glob(line)
			if !ok {
				continue
			}
			if _, dup := seen[glob]; dup {
				continue
			}
			seen[glob] = struct{}{}
			globs = append(globs, glob)
		}
	}
	return globs, nil
}

// Glob converts one ignore-file line to an exclusion glob matched against
// slash-separated repository paths. Blank lines, comments, and negations
// yield ok=false; honoring a negation needs full gitignore precedence, so
// they are dropped whole rather than applied without their un-ignore
// effect.
func Glob(line string) (glob string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return "", false
	}
	anchored := strings.HasPrefix(line, "/")
	dir := strings.HasSuffix(line, "/")
	glob = strings.Trim(line, "/")
	if glob == "" {
		return "", false
	}

	// A bare name with no wildcard or extension is almost always a
	// directory rule (node_modules, target, dist).
	if dir || !strings.ContainsAny(glob, "*?.") {
		glob += "/**"
	}

	// Rules without a leading slash match at any depth.
	stem := strings.TrimSuffix(glob, "/**")
	if !anchored && !strings.Contains(stem, "/") && !strings.HasPrefix(glob, "*") {
		glob = "**/" + glob
	}
	return glob, true
}
