package ci

import (
	"reflect"
	"testing"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) string {
		return values[key]
	}
}

func TestDetectWithLookup(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
		want Environment
	}{
		{
			name: "GitHub pull request",
			env: map[string]string{
				"CI":                "true",
				"GITHUB_REPOSITORY": "octocat/hello-world",
				"GITHUB_SERVER_URL": "https://github.example.com/",
				"GITHUB_SHA":        "abcdef123456",
				"GITHUB_REF":        "refs/pull/42/merge",
				"GITHUB_REF_NAME":   "42/merge",
			},
			want: Environment{
				Provider:      ProviderGitHub,
				CI:            true,
				Commit:        "abcdef123456",
				Ref:           "refs/pull/42/merge",
				RefName:       "42/merge",
				Repository:    "octocat/hello-world",
				RepositoryURL: "https://github.example.com/octocat/hello-world",
				PullRequest:   "42",
			},
		},
		{
			name: "GitLab branch",
			env: map[string]string{
				"GITLAB_CI":          "true",
				"CI":                 "true",
				"CI_COMMIT_SHA":      "123abc",
				"CI_COMMIT_REF_NAME": "main",
				"CI_PROJECT_PATH":    "group/app",
				"CI_PROJECT_URL":     "https://gitlab.example.com/group/app",
			},
			want: Environment{
				Provider:      ProviderGitLab,
				CI:            true,
				Commit:        "123abc",
				Ref:           "refs/heads/main",
				RefName:       "main",
				Repository:    "group/app",
				RepositoryURL: "https://gitlab.example.com/group/app",
			},
		},
		{
			name: "GitLab merge request",
			env: map[string]string{
				"CI_PROJECT_PATH":                     "group/app",
				"CI_MERGE_REQUEST_REF_PATH":           "refs/merge-requests/7/head",
				"CI_MERGE_REQUEST_SOURCE_BRANCH_NAME": "feature",
			},
			want: Environment{
				Provider:    ProviderGitLab,
				Ref:         "refs/merge-requests/7/head",
				RefName:     "feature",
				Repository:  "group/app",
				PullRequest: "7",
			},
		},
		{
			name: "Bitbucket tag",
			env: map[string]string{
				"BITBUCKET_WORKSPACE":       "team",
				"BITBUCKET_REPO_FULL_NAME":  "team/service",
				"BITBUCKET_COMMIT":          "fff000",
				"BITBUCKET_TAG":             "v1.2.0",
				"BITBUCKET_GIT_HTTP_ORIGIN": "https://bitbucket.org/team/service",
			},
			want: Environment{
				Provider:      ProviderBitbucket,
				Commit:        "fff000",
				Ref:           "refs/tags/v1.2.0",
				RefName:       "v1.2.0",
				Repository:    "team/service",
				RepositoryURL: "https://bitbucket.org/team/service",
			},
		},
		{
			name: "Unknown",
			env:  map[string]string{"CI": "true"},
			want: Environment{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectWithLookup(mapLookup(tc.env))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("DetectWithLookup() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestProvenance(t *testing.T) {
	if p := (Environment{}).Provenance(); p != nil {
		t.Fatalf("Provenance() outside CI = %+v, want nil", p)
	}

	env := Environment{Provider: ProviderGitHub, Repository: "octocat/hello-world", Commit: "abc", Ref: "refs/heads/main"}
	p := env.Provenance()
	if p == nil {
		t.Fatal("Provenance() = nil")
	}
	if p.Provider != "github" || p.Commit != "abc" || p.Repository != "octocat/hello-world" || p.Ref != "refs/heads/main" {
		t.Fatalf("Provenance() = %+v", p)
	}
}

func TestPullRequestFromRef(t *testing.T) {
	testCases := map[string]string{
		"refs/pull/12/merge":         "12",
		"refs/merge-requests/3/head": "3",
		"refs/heads/main":            "",
		"refs/pull/abc/merge":        "",
		"":                           "",
	}
	for ref, want := range testCases {
		if got := pullRequestFromRef(ref); got != want {
			t.Errorf("pullRequestFromRef(%q) = %q, want %q", ref, got, want)
		}
	}
}
