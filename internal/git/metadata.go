package git

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/scan-io-git/triageio/internal/findings"
)

// struct with repository metadata
type RepositoryMetadata struct {
	BranchName         *string
	CommitHash         *string
	RepositoryFullName *string
	Subfolder          string
	RepoRootFolder     string
}

// CollectRepositoryMetadata function collects repository metadata
// that includes branch name, commit hash, repository full name, subfolder and repository root folder
func CollectRepositoryMetadata(sourceFolder string) (*RepositoryMetadata, error) {
	if sourceFolder == "" {
		return &RepositoryMetadata{}, fmt.Errorf("source folder is not set")
	}
	if absSource, err := filepath.Abs(sourceFolder); err == nil {
		sourceFolder = absSource
	}
	md := &RepositoryMetadata{RepoRootFolder: filepath.Clean(sourceFolder)}

	repo, sub, err := openRepository(sourceFolder)
	if err != nil {
		return md, err
	}
	md.Subfolder = sub
	if wt, err := repo.Worktree(); err == nil {
		md.RepoRootFolder = filepath.Clean(wt.Filesystem.Root())
	}

	if head, err := repo.Head(); err == nil {
		if head.Name().IsBranch() {
			branchName := head.Name().Short()
			md.BranchName = &branchName
		}
		hash := head.Hash().String()
		md.CommitHash = &hash
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if cfg := remote.Config(); cfg != nil && len(cfg.URLs) > 0 {
			repositoryFullName := strings.TrimSuffix(cfg.URLs[0], ".git")
			md.RepositoryFullName = &repositoryFullName
		}
	}

	return md, nil
}

// Provenance describes the checked out revision; nil when no commit is known.
func (md *RepositoryMetadata) Provenance() *findings.Provenance {
	if md == nil || md.CommitHash == nil {
		return nil
	}
	p := &findings.Provenance{Provider: "git", Commit: *md.CommitHash}
	if md.RepositoryFullName != nil {
		p.Repository = *md.RepositoryFullName
		if strings.HasPrefix(p.Repository, "https://") || strings.HasPrefix(p.Repository, "http://") {
			p.RepositoryURL = p.Repository
		}
	}
	if md.BranchName != nil {
		p.Ref = "refs/heads/" + *md.BranchName
	}
	return p
}
