package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFilter decides which paths a walk descends into or indexes.
// relPath uses forward slashes and is relative to the collection root.
type IgnoreFilter interface {
	ShouldIndex(relPath string, isDir bool) bool
}

// Directories never descended into
var alwaysSkipDirs = map[string]bool{
	".git": true, "__pycache__": true, "node_modules": true, ".venv": true, "venv": true,
	".tox": true, ".mypy_cache": true, ".pytest_cache": true, ".ruff_cache": true,
	"dist": true, "build": true, ".eggs": true, ".next": true, ".nuxt": true,
	"vendor": true, "target": true, "Pods": true,
}

// Lock files and other generated files never indexed
var alwaysSkipFiles = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"poetry.lock": true, "Cargo.lock": true, "Gemfile.lock": true,
	"go.sum": true, "composer.lock": true,
}

// CodeExtensions are read as UTF-8 and split at scope boundaries
var CodeExtensions = []string{
	".py", ".js", ".ts", ".tsx", ".jsx",
	".go", ".rs", ".java", ".kt", ".scala",
	".c", ".cpp", ".h", ".hpp", ".cs",
	".rb", ".php", ".swift", ".m",
	".sql", ".sh", ".bash", ".zsh",
	".yaml", ".yml", ".toml", ".json",
	".html", ".css", ".scss",
	".tf", ".hcl",
	".proto", ".graphql",
	".lua", ".r", ".jl",
	".ex", ".exs", ".erl",
	".zig", ".nim", ".v",
	".dockerfile",
}

// TextExtensions are read as UTF-8 prose
var TextExtensions = []string{".md", ".markdown", ".txt", ".rst", ".csv", ".log"}

// DocumentExtensions need a registered extractor
var DocumentExtensions = []string{".pdf", ".docx", ".pptx"}

// DefaultFilter skips hidden entries, vendored and generated trees, lock
// files, unknown extensions and anything matched by the root .gitignore
type DefaultFilter struct {
	extensions map[string]bool
	gitignore  *ignore.GitIgnore
}

// NewDefaultFilter builds the filter for root, reading root/.gitignore when present
func NewDefaultFilter(root string) (*DefaultFilter, error) {
	f := &DefaultFilter{extensions: make(map[string]bool)}
	for _, set := range [][]string{CodeExtensions, TextExtensions, DocumentExtensions} {
		for _, ext := range set {
			f.extensions[ext] = true
		}
	}

	gitignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		gi, err := ignore.CompileIgnoreFile(gitignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", gitignorePath, err)
		}
		f.gitignore = gi
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return f, nil
}

// ShouldIndex implements IgnoreFilter
func (f *DefaultFilter) ShouldIndex(relPath string, isDir bool) bool {
	name := path.Base(relPath)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if isDir {
		if alwaysSkipDirs[name] {
			return false
		}
		return f.gitignore == nil || !f.gitignore.MatchesPath(relPath+"/")
	}
	if alwaysSkipFiles[name] {
		return false
	}
	if !f.extensions[strings.ToLower(path.Ext(name))] {
		return false
	}
	return f.gitignore == nil || !f.gitignore.MatchesPath(relPath)
}

// WalkedFile is one indexable file found by Walk
type WalkedFile struct {
	RelPath string // Forward slashes
	AbsPath string
	ModTime time.Time
	Size    int64
}

// Walk lists the files under root accepted by filter, sorted by path.
// Files larger than maxSize are skipped when maxSize is positive.
func Walk(ctx context.Context, root string, filter IgnoreFilter, maxSize int64) ([]WalkedFile, error) {
	var files []WalkedFile

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, an unreadable root is not
			if p == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !filter.ShouldIndex(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !filter.ShouldIndex(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if maxSize > 0 && info.Size() > maxSize {
			return nil
		}

		files = append(files, WalkedFile{
			RelPath: rel,
			AbsPath: p,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}
