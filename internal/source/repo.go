package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/ignore"
	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
)

// DefaultMaxRepoFileBytes caps one repository file at 1 MiB.
const DefaultMaxRepoFileBytes int64 = 1 << 20

// maxRepoFiles bounds a single repository batch.
const maxRepoFiles = 5000

// defaultSkipDirs are tree components never worth indexing: generated
// code, dependency caches, and version control internals.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// RepoRequest describes one repository ingestion.
type RepoRequest struct {
	// URL is a remote clone URL; mutually exclusive with Path.
	URL string

	// Path is a local repository root.
	Path string

	Project string
	Include []string
	Exclude []string
	Tags    []string

	// MaxFileBytes caps individual files; DefaultMaxRepoFileBytes when 0.
	MaxFileBytes int64
}

// ignoreFiles are honored at the root of locally opened repositories.
var ignoreFiles = []string{".keeperdignore", ".gitignore"}

// RepoSource expands git repositories into per-file ingest requests.
type RepoSource struct {
	log *logging.Logger
}

// NewRepoSource builds a repository source. Local walks honor
// .keeperdignore and .gitignore files at the repository root.
func NewRepoSource(log *logging.Logger) *RepoSource {
	if log == nil {
		log = logging.Nop()
	}
	return &RepoSource{log: log.Named("source.repo")}
}

// Collect resolves the repository (shallow clone for remotes, open for
// local paths), walks the HEAD tree, and returns one request per matching
// text file. Binary and oversized files are skipped, never failed.
func (s *RepoSource) Collect(ctx context.Context, req RepoRequest) ([]ingest.Request, error) {
	if req.Project == "" {
		return nil, knowledge.Validationf("project is required")
	}
	if (req.URL == "") == (req.Path == "") {
		return nil, knowledge.Validationf("exactly one of url or path is required")
	}
	if err := validateGlobs(req.Include); err != nil {
		return nil, err
	}
	if err := validateGlobs(req.Exclude); err != nil {
		return nil, err
	}
	maxBytes := req.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRepoFileBytes
	}

	var (
		repo   *git.Repository
		prefix string
		err    error
	)
	excludes := req.Exclude
	if req.URL != "" {
		tmp, mkErr := os.MkdirTemp("", "keeperd-repo-*")
		if mkErr != nil {
			return nil, fmt.Errorf("temp clone dir: %w", mkErr)
		}
		defer os.RemoveAll(tmp)
		repo, err = git.PlainCloneContext(ctx, tmp, false, &git.CloneOptions{
			URL:   req.URL,
			Depth: 1,
		})
		if err != nil {
			return nil, knowledge.Extractionf("clone %s: %v", req.URL, err)
		}
		prefix = strings.TrimSuffix(req.URL, ".git")
	} else {
		abs, absErr := filepath.Abs(req.Path)
		if absErr != nil {
			return nil, knowledge.Validationf("resolve path %s: %v", req.Path, absErr)
		}
		repo, err = git.PlainOpen(abs)
		if err != nil {
			return nil, knowledge.Validationf("%s is not a git repository", req.Path)
		}
		prefix = "file://" + filepath.ToSlash(abs)
		patterns, perr := ignore.Patterns(abs, ignoreFiles...)
		if perr != nil {
			s.log.Warn(ctx, "ignore files unreadable", zap.String("path", abs), zap.Error(perr))
		}
		excludes = append(excludes, patterns...)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, knowledge.Extractionf("resolve HEAD: %v", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, knowledge.Extractionf("load HEAD commit: %v", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, knowledge.Extractionf("load HEAD tree: %v", err)
	}

	var out []ingest.Request
	skippedBinary, skippedSize := 0, 0
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(out) >= maxRepoFiles {
			return storer.ErrStop
		}
		if underSkippedDir(f.Name) {
			return nil
		}
		if f.Size > maxBytes {
			skippedSize++
			return nil
		}
		if !matchesFilters(f.Name, req.Include, excludes) {
			return nil
		}
		content, cErr := f.Contents()
		if cErr != nil {
			s.log.Warn(ctx, "unreadable blob skipped", zap.String("path", f.Name), zap.Error(cErr))
			return nil
		}
		if !utf8.ValidString(content) {
			skippedBinary++
			return nil
		}
		out = append(out, ingest.Request{
			Project:   req.Project,
			Data:      []byte(content),
			Filename:  path.Base(f.Name),
			SourceURI: prefix + "#" + f.Name,
			DocType:   knowledge.DocTypeFile,
			Tags:      append([]string{"repo"}, req.Tags...),
			Priority:  ingest.PriorityLow,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk HEAD tree: %w", err)
	}
	if len(out) == 0 {
		return nil, knowledge.Validationf("repository matched no ingestible files")
	}
	s.log.Info(ctx, "collected repository",
		zap.Int("files", len(out)),
		zap.Int("skipped_binary", skippedBinary),
		zap.Int("skipped_size", skippedSize))
	return out, nil
}

// underSkippedDir reports whether any path component is a default-skip
// directory.
func underSkippedDir(relPath string) bool {
	dir := path.Dir(relPath)
	if dir == "." {
		return false
	}
	for _, part := range strings.Split(dir, "/") {
		if defaultSkipDirs[part] {
			return true
		}
	}
	return false
}

// matchesFilters applies exclude patterns first, then include patterns.
// No include patterns means everything not excluded is in.
func matchesFilters(relPath string, include, exclude []string) bool {
	base := path.Base(relPath)
	for _, pattern := range exclude {
		if matchedByPattern(pattern, relPath, base) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if matchedByPattern(pattern, relPath, base) {
			return true
		}
	}
	return false
}

// matchedByPattern tries a glob against the basename and the repo-relative
// path, with a prefix fallback for the ** forms path.Match cannot express.
func matchedByPattern(pattern, relPath, base string) bool {
	if ok, _ := path.Match(pattern, base); ok {
		return true
	}
	if ok, _ := path.Match(pattern, relPath); ok {
		return true
	}
	if !strings.Contains(pattern, "**") {
		return false
	}
	trimmed := strings.TrimSuffix(pattern, "/**")
	trimmed = strings.TrimPrefix(trimmed, "**/")
	if strings.HasPrefix(relPath, trimmed+"/") {
		return true
	}
	if dir := path.Dir(relPath); dir != "." {
		for _, part := range strings.Split(dir, "/") {
			if ok, _ := path.Match(trimmed, part); ok {
				return true
			}
		}
	}
	if ok, _ := path.Match(trimmed, base); ok {
		return true
	}
	return false
}

func validateGlobs(patterns []string) error {
	for _, p := range patterns {
		probe := strings.ReplaceAll(p, "**", "*")
		if _, err := path.Match(probe, "probe"); err != nil {
			return knowledge.Validationf("invalid pattern %q", p)
		}
	}
	return nil
}
