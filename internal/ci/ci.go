// Package ci discovers the CI job a triage runs in, so results can name the revision they cover.
package ci

import (
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/scan-io-git/triageio/internal/findings"
)

// Provider identifies a CI system.
type Provider string

const (
	ProviderUnknown   Provider = ""
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// LookupFunc fetches environment variables and defaults to os.Getenv.
type LookupFunc func(string) string

// Environment is the CI metadata of the current job.
type Environment struct {
	Provider      Provider
	CI            bool
	Commit        string
	Ref           string // fully qualified, e.g. refs/heads/main
	RefName       string
	Repository    string // namespace and name, e.g. octocat/hello-world
	RepositoryURL string
	PullRequest   string
}

// Detect reads the process environment.
func Detect() Environment {
	return DetectWithLookup(os.Getenv)
}

// DetectWithLookup identifies the provider from well-known variables and collects its metadata.
func DetectWithLookup(lookup LookupFunc) Environment {
	if lookup == nil {
		lookup = os.Getenv
	}
	switch {
	case lookup("GITHUB_REPOSITORY") != "" || lookup("GITHUB_SHA") != "":
		return fromGitHub(lookup)
	case strings.EqualFold(lookup("GITLAB_CI"), "true") || lookup("CI_PROJECT_PATH") != "":
		return fromGitLab(lookup)
	case lookup("BITBUCKET_WORKSPACE") != "" || lookup("BITBUCKET_REPO_SLUG") != "":
		return fromBitbucket(lookup)
	default:
		return Environment{}
	}
}

// Provenance converts the environment for the triage result; nil outside a known CI.
func (e Environment) Provenance() *findings.Provenance {
	if e.Provider == ProviderUnknown {
		return nil
	}
	return &findings.Provenance{
		Provider:      string(e.Provider),
		Repository:    e.Repository,
		RepositoryURL: e.RepositoryURL,
		Commit:        e.Commit,
		Ref:           e.Ref,
		PullRequest:   e.PullRequest,
	}
}

// See https://docs.github.com/en/actions/reference/workflows-and-actions/variables.
func fromGitHub(lookup LookupFunc) Environment {
	ci, _ := strconv.ParseBool(lookup("CI"))
	repo := lookup("GITHUB_REPOSITORY")
	repoURL := ""
	if server := lookup("GITHUB_SERVER_URL"); server != "" && repo != "" {
		repoURL = strings.TrimSuffix(server, "/") + "/" + repo
	}
	ref := lookup("GITHUB_REF")
	return Environment{
		Provider:      ProviderGitHub,
		CI:            ci,
		Commit:        lookup("GITHUB_SHA"),
		Ref:           ref,
		RefName:       lookup("GITHUB_REF_NAME"),
		Repository:    repo,
		RepositoryURL: repoURL,
		PullRequest:   pullRequestFromRef(ref),
	}
}

// See https://docs.gitlab.com/ci/variables/predefined_variables/.
func fromGitLab(lookup LookupFunc) Environment {
	ci, _ := strconv.ParseBool(lookup("CI"))
	env := Environment{
		Provider:      ProviderGitLab,
		CI:            ci,
		Commit:        lookup("CI_COMMIT_SHA"),
		Repository:    lookup("CI_PROJECT_PATH"),
		RepositoryURL: lookup("CI_PROJECT_URL"),
	}
	switch {
	case lookup("CI_COMMIT_TAG") != "":
		env.RefName = lookup("CI_COMMIT_TAG")
		env.Ref = "refs/tags/" + env.RefName
	case lookup("CI_MERGE_REQUEST_REF_PATH") != "":
		env.Ref = lookup("CI_MERGE_REQUEST_REF_PATH")
		env.RefName = lookup("CI_MERGE_REQUEST_SOURCE_BRANCH_NAME")
		env.PullRequest = lookup("CI_MERGE_REQUEST_IID")
		if env.PullRequest == "" {
			env.PullRequest = pullRequestFromRef(env.Ref)
		}
	case lookup("CI_COMMIT_REF_NAME") != "":
		env.RefName = lookup("CI_COMMIT_REF_NAME")
		env.Ref = "refs/heads/" + env.RefName
	}
	return env
}

// See https://support.atlassian.com/bitbucket-cloud/docs/variables-and-secrets/.
func fromBitbucket(lookup LookupFunc) Environment {
	ci, _ := strconv.ParseBool(lookup("CI"))
	env := Environment{
		Provider:    ProviderBitbucket,
		CI:          ci,
		Commit:      lookup("BITBUCKET_COMMIT"),
		Repository:  lookup("BITBUCKET_REPO_FULL_NAME"),
		PullRequest: lookup("BITBUCKET_PR_ID"),
	}
	if origin := lookup("BITBUCKET_GIT_HTTP_ORIGIN"); origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Scheme != "" && u.Host != "" {
			env.RepositoryURL = origin
		}
	}
	switch {
	case lookup("BITBUCKET_TAG") != "":
		env.RefName = lookup("BITBUCKET_TAG")
		env.Ref = "refs/tags/" + env.RefName
	case lookup("BITBUCKET_BRANCH") != "":
		env.RefName = lookup("BITBUCKET_BRANCH")
		env.Ref = "refs/heads/" + env.RefName
	case env.PullRequest != "":
		env.RefName = env.PullRequest
		env.Ref = "refs/pull/" + env.PullRequest
	}
	return env
}

// pullRequestFromRef extracts the number from refs/pull/<n>/... and refs/merge-requests/<n>/...
func pullRequestFromRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i := 0; i+1 < len(parts); i++ {
		if (parts[i] == "pull" || parts[i] == "merge-requests") && allDigits(parts[i+1]) {
			return parts[i+1]
		}
	}
	return ""
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
