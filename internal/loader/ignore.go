package loader

import (
	"fmt"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreFile is looked up in the documents directory.
const DefaultIgnoreFile = ".ragignore"

type ignoreMatcher struct {
	patterns *gitignore.GitIgnore
}

func (m ignoreMatcher) match(name string) bool {
	if m.patterns == nil {
		return false
	}
	return m.patterns.MatchesPath(name)
}

// loadIgnore reads the ignore file of dir. A missing file matches nothing.
func (l *Loader) loadIgnore(dir string) (ignoreMatcher, error) {
	if l.ignoreFile == "" {
		return ignoreMatcher{}, nil
	}
	path := filepath.Join(dir, l.ignoreFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ignoreMatcher{}, nil
	}
	gi, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return ignoreMatcher{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ignoreMatcher{patterns: gi}, nil
}
