package automerge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/navikt/automerge-dependabot-sub000/internal/depinfo"
	"github.com/navikt/automerge-dependabot-sub000/internal/githubclt"
	"github.com/navikt/automerge-dependabot-sub000/internal/semver"
)

const testOwner = "testman"
const testRepo = "repo"

func newTestAutomerger(t *testing.T, clt GithubClient, policy *Policy) *Automerger {
	t.Helper()

	zap.ReplaceGlobals(zaptest.NewLogger(t))

	return NewAutomerger(clt, Config{
		Owner:       testOwner,
		Repo:        testRepo,
		MinimumAge:  3 * 24 * time.Hour,
		RetryDelay:  time.Millisecond,
		MergeMethod: "squash",
		Policy:      policy,
	})
}

func botPR(nr int, title string, labels ...string) *githubclt.PullRequest {
	return &githubclt.PullRequest{
		Number:    nr,
		Author:    BotLogin,
		CreatedAt: time.Now().Add(-4 * 24 * time.Hour),
		Title:     title,
		HeadSHA:   "5958f76c8a2095c66e7f923c0e8eee25e4a16884",
		Labels:    labels,
	}
}

func singleCandidate(pr *githubclt.PullRequest, update depinfo.Update) *Candidate {
	return &Candidate{PR: pr, DependencyInfo: &update}
}

func patchUpdate(name string) depinfo.Update {
	return depinfo.Update{
		Name:         name,
		FromVersion:  "1.0.0",
		ToVersion:    "1.0.1",
		SemverChange: semver.ChangePatch,
	}
}

func majorUpdate(name string) depinfo.Update {
	return depinfo.Update{
		Name:         name,
		FromVersion:  "1.0.0",
		ToVersion:    "2.0.0",
		SemverChange: semver.ChangeMajor,
	}
}

func TestApplyFiltersAllowsMatchingSemverClass(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch", "minor"})
	a := newTestAutomerger(t, nil, policy)

	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(1, "Bump lodash from 1.0.0 to 1.0.1"), patchUpdate("lodash")),
	})

	require.Len(t, result, 1)
	assert.Empty(t, a.Ledger().Reasons(1))
}

func TestApplyFiltersRejectsDisallowedSemverClass(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch", "minor"})
	a := newTestAutomerger(t, nil, policy)

	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(2, "Bump lodash from 1.0.0 to 2.0.0"), majorUpdate("lodash")),
	})

	assert.Empty(t, result)

	entries := a.Ledger().Reasons(2)
	require.Len(t, entries, 1)
	assert.Equal(t, "lodash", entries[0].Dependency)
	assert.Equal(t, `Semver change "major" is not in allowed list: patch, minor`, entries[0].Reason)
}

func TestApplyFiltersRejectsNonBotCreator(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	pr := botPR(3, "Bump lodash from 1.0.0 to 1.0.1")
	pr.Author = "mallory"

	result := a.ApplyFilters([]*Candidate{singleCandidate(pr, patchUpdate("lodash"))})

	assert.Empty(t, result)

	entries := a.Ledger().Reasons(3)
	require.Len(t, entries, 1)
	assert.Equal(t, GeneralReason, entries[0].Dependency)
	assert.Equal(t, "Not created by Dependabot (creator: mallory)", entries[0].Reason)
}

func TestApplyFiltersUnknownCreator(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	pr := botPR(4, "Bump lodash from 1.0.0 to 1.0.1")
	pr.Author = ""

	a.ApplyFilters([]*Candidate{singleCandidate(pr, patchUpdate("lodash"))})

	entries := a.Ledger().Reasons(4)
	require.Len(t, entries, 1)
	assert.Equal(t, "Not created by Dependabot (creator: unknown)", entries[0].Reason)
}

func TestApplyFiltersIgnoredDependency(t *testing.T) {
	policy := NewPolicy([]string{"lodash"}, nil, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(5, "Bump lodash from 1.0.0 to 1.0.1"), patchUpdate("lodash")),
	})

	assert.Empty(t, result)

	entries := a.Ledger().Reasons(5)
	require.Len(t, entries, 1)
	assert.Equal(t, `Dependency "lodash" is in ignored list`, entries[0].Reason)
}

func TestApplyFiltersIgnoredVersions(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		blocked bool
	}{
		{"exact version", "lodash@1.0.1", true},
		{"wildcard version", "lodash@*", true},
		{"bare name", "lodash", true},
		{"different version", "lodash@9.9.9", false},
		{"different name", "axios@1.0.1", false},
		{"name is not a prefix match", "lodash-es@*", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy := NewPolicy(nil, nil, nil, []string{tc.entry}, []string{"patch"})
			a := newTestAutomerger(t, nil, policy)

			result := a.ApplyFilters([]*Candidate{
				singleCandidate(botPR(6, "Bump lodash from 1.0.0 to 1.0.1"), patchUpdate("lodash")),
			})

			if !tc.blocked {
				require.Len(t, result, 1)
				return
			}

			assert.Empty(t, result)
			entries := a.Ledger().Reasons(6)
			require.Len(t, entries, 1)
			assert.Equal(t, `Version "lodash@1.0.1" is in ignored list`, entries[0].Reason)
		})
	}
}

func TestApplyFiltersIgnoredVersionsScopedPackage(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, []string{"@types/node@*"}, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(7, "Bump @types/node from 1.0.0 to 1.0.1"), patchUpdate("@types/node")),
	})

	assert.Empty(t, result)
}

func TestApplyFiltersAlwaysAllowBypassesSemverGate(t *testing.T) {
	policy := NewPolicy(nil, []string{"lodash"}, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(8, "Bump lodash from 1.0.0 to 2.0.0"), majorUpdate("lodash")),
	})

	require.Len(t, result, 1)
	assert.Empty(t, a.Ledger().Reasons(8))
}

func TestApplyFiltersLabelBypass(t *testing.T) {
	policy := NewPolicy([]string{"lodash"}, nil, []string{"Automerge"}, nil, nil)
	a := newTestAutomerger(t, nil, policy)

	// label matching is case-insensitive and short-circuits every
	// dependency-level check, including the ignore list
	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(9, "Bump lodash from 1.0.0 to 2.0.0", "aUtOmErGe"), majorUpdate("lodash")),
	})

	require.Len(t, result, 1)
	assert.Empty(t, a.Ledger().Reasons(9))
}

func TestApplyFiltersNoDependencyInfo(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	result := a.ApplyFilters([]*Candidate{
		{PR: botPR(10, "Bump something mysterious")},
	})

	assert.Empty(t, result)

	entries := a.Ledger().Reasons(10)
	require.Len(t, entries, 1)
	assert.Equal(t, "No dependency info available", entries[0].Reason)
}

func TestApplyFiltersGroupedAllMustPass(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch", "minor"})
	a := newTestAutomerger(t, nil, policy)

	pr := botPR(11, "Bump the go-dependencies group with 2 updates")
	candidate := &Candidate{
		PR: pr,
		DependencyInfoList: []depinfo.Update{
			patchUpdate("axios"),
			majorUpdate("lodash"),
		},
	}

	result := a.ApplyFilters([]*Candidate{candidate})
	assert.Empty(t, result, "one blocked dependency must reject the whole pull request")

	entries := a.Ledger().Reasons(11)
	require.Len(t, entries, 1)
	assert.Equal(t, "lodash", entries[0].Dependency)
	assert.Equal(t, `Semver change "major" for "lodash" is not in allowed list`, entries[0].Reason)
}

func TestApplyFiltersGroupedAllPassing(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	pr := botPR(12, "Bump the go-dependencies group with 2 updates")
	candidate := &Candidate{
		PR: pr,
		DependencyInfoList: []depinfo.Update{
			patchUpdate("axios"),
			patchUpdate("lodash"),
		},
	}

	result := a.ApplyFilters([]*Candidate{candidate})
	require.Len(t, result, 1)
}

func TestApplyFiltersMissingRequiredInformation(t *testing.T) {
	policy := NewPolicy(nil, nil, nil, nil, []string{"patch"})
	a := newTestAutomerger(t, nil, policy)

	update := depinfo.Update{Name: "lodash"}

	result := a.ApplyFilters([]*Candidate{
		singleCandidate(botPR(13, "Bump lodash"), update),
	})

	assert.Empty(t, result)

	entries := a.Ledger().Reasons(13)
	require.Len(t, entries, 1)
	assert.Equal(t, "Dependency update is missing required information", entries[0].Reason)
}

func TestShouldAlwaysAllow(t *testing.T) {
	tests := []struct {
		name     string
		dep      string
		patterns []string
		expected bool
	}{
		{"wildcard", "anything", []string{"*"}, true},
		{"exact match", "lodash", []string{"lodash"}, true},
		{"no match", "lodash", []string{"axios"}, false},
		{"empty patterns", "lodash", nil, false},
		{"name pattern substring", "org.example:client-core", []string{"name:client"}, true},
		{"name pattern case sensitive", "org.example:Client-core", []string{"name:client"}, false},
		{"prefix match on group id", "no.nav.appsec:contracts", []string{"no.nav.appsec"}, true},
		{"prefix mismatch", "com.example:x", []string{"no.nav.appsec"}, false},
		{"second pattern matches", "lodash", []string{"axios", "lodash"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ShouldAlwaysAllow(tc.dep, tc.patterns))
		})
	}
}

func TestNewPolicyDropsUnknownSemverValues(t *testing.T) {
	zap.ReplaceGlobals(zaptest.NewLogger(t))

	policy := NewPolicy(nil, nil, nil, nil, []string{"patch", "gigantic", "minor"})

	assert.Equal(t, "patch, minor", policy.allowedList())
}
