package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// SourceFile is one corpus file with the classification derived from its path.
type SourceFile struct {
	AbsPath   string
	RelPath   string // slash-separated, relative to the corpus root
	Tech      string
	Component string
}

// Corpus maps a documentation tree to technologies and components:
// <root>/<tech>/<component>/.../<file>. Files directly under <root>/<tech>/
// have no component.
type Corpus struct {
	root       string
	techs      []string
	extensions []string
}

// NewCorpus creates a corpus rooted at root. Only directories named after one
// of techs are indexed, and only files whose extension is in extensions
// (all files when extensions is empty).
func NewCorpus(root string, techs, extensions []string) *Corpus {
	return &Corpus{root: root, techs: techs, extensions: extensions}
}

// Root returns the corpus root directory.
func (c *Corpus) Root() string { return c.root }

// Technologies returns the configured technology set.
func (c *Corpus) Technologies() []string { return c.techs }

// KnownTech reports whether tech is in the configured set.
func (c *Corpus) KnownTech(tech string) bool {
	return slices.Contains(c.techs, tech)
}

// Classify derives tech and component from a slash-separated path relative to
// the root. ok is false when the path is not inside a known tech directory.
func (c *Corpus) Classify(relPath string) (tech, component string, ok bool) {
	segs := strings.Split(path.Clean(relPath), "/")
	if len(segs) < 2 || !c.KnownTech(segs[0]) {
		return "", "", false
	}
	if len(segs) >= 3 {
		component = segs[1]
	}
	return segs[0], component, true
}

// Rel converts an absolute path under the root to its slash-separated relative form.
func (c *Corpus) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(c.root, absPath)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside corpus root %s", absPath, c.root)
	}
	return rel, nil
}

// Walk lists the regular files in scope, sorted by relative path. An empty
// tech walks every configured technology. Hidden files and directories are skipped.
func (c *Corpus) Walk(ctx context.Context, tech string) ([]SourceFile, error) {
	techs := c.techs
	if tech != "" {
		techs = []string{tech}
	}
	var files []SourceFile
	for _, t := range techs {
		dir := filepath.Join(c.root, t)
		info, err := os.Stat(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && p != dir {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !c.Allowed(p) {
				return nil
			}
			// Resolve symlinks so we only index regular files
			finfo, statErr := os.Stat(p)
			if statErr != nil || !finfo.Mode().IsRegular() {
				return nil
			}
			rel, err := c.Rel(p)
			if err != nil {
				return err
			}
			ft, comp, ok := c.Classify(rel)
			if !ok {
				return nil
			}
			files = append(files, SourceFile{
				AbsPath:   p,
				RelPath:   rel,
				Tech:      ft,
				Component: comp,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// Allowed reports whether the file's extension is indexed.
func (c *Corpus) Allowed(p string) bool {
	return len(c.extensions) == 0 || extensionAllowed(filepath.Ext(p), c.extensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func isMarkdown(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

func docTitle(relPath string) string {
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}
