package git

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// findGitRepositoryPath walks up from sourceFolder to the first folder git can open.
func findGitRepositoryPath(sourceFolder string) (string, error) {
	if sourceFolder == "" {
		return "", fmt.Errorf("source folder is not set")
	}

	for {
		_, err := git.PlainOpen(sourceFolder)
		if err == nil {
			return sourceFolder, nil
		}

		sourceFolder = filepath.Dir(sourceFolder)
		if sourceFolder == filepath.Dir(sourceFolder) {
			break
		}
	}

	return "", fmt.Errorf("source folder is not a git repository")
}

// openRepository opens the repository containing sourceFolder and returns it with the
// slash-separated path of sourceFolder inside it ("" at the root).
func openRepository(sourceFolder string) (*git.Repository, string, error) {
	if abs, err := filepath.Abs(sourceFolder); err == nil {
		sourceFolder = abs
	}
	root, err := findGitRepositoryPath(sourceFolder)
	if err != nil {
		return nil, "", err
	}
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open repository: %w", err)
	}
	sub := ""
	if rel, err := filepath.Rel(root, sourceFolder); err == nil && rel != "." {
		sub = filepath.ToSlash(rel)
	}
	return repo, sub, nil
}
