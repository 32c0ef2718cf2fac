// Package automerge implements the automerge run: screening dependabot pull
// requests for eligibility, filtering them against the configured update
// policy and merging the ones that pass.
package automerge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/automerge-dependabot-sub000/internal/blackout"
	"github.com/navikt/automerge-dependabot-sub000/internal/depinfo"
	"github.com/navikt/automerge-dependabot-sub000/internal/githubclt"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

const loggerName = "automerger"

// BotLogin is the github login of the dependabot account that creates the
// pull requests this program merges.
const BotLogin = "dependabot[bot]"

//go:generate mockgen -destination mocks/mock_githubclient.go -package mocks github.com/navikt/automerge-dependabot-sub000/internal/automerge GithubClient

// GithubClient is the subset of the github client API used by the automerge
// run.
type GithubClient interface {
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*githubclt.PullRequest, error)
	PullRequestDetail(ctx context.Context, owner, repo string, prNumber int) (*githubclt.PullRequestDetail, error)
	ListCommits(ctx context.Context, owner, repo string, prNumber int) ([]*githubclt.Commit, error)
	CombinedStatus(ctx context.Context, owner, repo, ref string) (string, error)
	ListReviews(ctx context.Context, owner, repo string, prNumber int) ([]*githubclt.Review, error)
	Merge(ctx context.Context, owner, repo string, prNumber int, method string) error
	Approve(ctx context.Context, owner, repo string, prNumber int) error
}

// Candidate is a pull request that passed eligibility screening, enriched
// with the extracted dependency updates.
// A candidate carries either a single update or a list of updates from a
// grouped pull request, never both.
type Candidate struct {
	PR *githubclt.PullRequest

	DependencyInfo     *depinfo.Update
	DependencyInfoList []depinfo.Update
}

// Updates returns the dependency updates of the candidate.
func (c *Candidate) Updates() []depinfo.Update {
	if len(c.DependencyInfoList) > 0 {
		return c.DependencyInfoList
	}

	if c.DependencyInfo != nil {
		return []depinfo.Update{*c.DependencyInfo}
	}

	return nil
}

// IsGrouped returns true when the candidate is a grouped multi-dependency
// update.
func (c *Candidate) IsGrouped() bool {
	return len(c.DependencyInfoList) > 0
}

// Config are the parameters of an Automerger.
type Config struct {
	Owner string
	Repo  string

	// MinimumAge is the minimum age a pull request must have before it is
	// merged.
	MinimumAge time.Duration
	// RetryDelay is the wait between attempts of the mergeability poll.
	RetryDelay time.Duration
	// MergeDelay is an optional settle delay between merge calls.
	MergeDelay time.Duration

	MergeMethod string
	AutoApprove bool

	// BlackoutPeriods is the raw comma-separated blackout-period
	// configuration, see the blackout package.
	BlackoutPeriods string

	Policy *Policy
}

// Automerger runs the merge pipeline for the dependabot pull requests of a
// single repository.
type Automerger struct {
	owner string
	repo  string

	minimumAge  time.Duration
	retryDelay  time.Duration
	mergeDelay  time.Duration
	mergeMethod string
	autoApprove bool

	blackoutPeriods string

	policy   *Policy
	ghClient GithubClient
	ledger   *Ledger

	logger *zap.Logger
}

func NewAutomerger(ghClient GithubClient, cfg Config) *Automerger {
	return &Automerger{
		owner:           cfg.Owner,
		repo:            cfg.Repo,
		minimumAge:      cfg.MinimumAge,
		retryDelay:      cfg.RetryDelay,
		mergeDelay:      cfg.MergeDelay,
		mergeMethod:     cfg.MergeMethod,
		autoApprove:     cfg.AutoApprove,
		blackoutPeriods: cfg.BlackoutPeriods,
		policy:          cfg.Policy,
		ghClient:        ghClient,
		ledger:          NewLedger(),
		logger: zap.L().Named(loggerName).With(
			logfields.RepositoryOwner(cfg.Owner),
			logfields.Repository(cfg.Repo),
		),
	}
}

// Ledger returns the reason ledger of the last run.
func (a *Automerger) Ledger() *Ledger {
	return a.ledger
}

// RunResult summarizes a single automerge run.
type RunResult struct {
	// Skipped is true when the run was skipped because of a blackout
	// period.
	Skipped bool

	InitialPRs  []*githubclt.PullRequest
	EligiblePRs []*Candidate
	MergeSet    []*Candidate
	Merged      int
}

// Run executes one automerge run: it evaluates the blackout gate, screens
// all open pull requests, applies the configured filters and merges the
// remaining set.
// The reason ledger is reset at the start of every run.
func (a *Automerger) Run(ctx context.Context) (*RunResult, error) {
	a.ledger = NewLedger()

	if !blackout.ShouldRun(a.blackoutPeriods, time.Now()) {
		a.logger.Info(
			"run skipped, inside a blackout period",
			logfields.Event("run_skipped_blackout"),
		)

		return &RunResult{Skipped: true}, nil
	}

	screened, err := a.FindMergeablePRs(ctx)
	if err != nil {
		return nil, fmt.Errorf("screening pull requests failed: %w", err)
	}

	mergeSet := a.ApplyFilters(screened.Eligible)

	merged := a.MergePullRequests(ctx, mergeSet)

	a.logger.Info(
		"run finished",
		logfields.Event("run_finished"),
		zap.Int("prs_open", len(screened.Initial)),
		zap.Int("prs_eligible", len(screened.Eligible)),
		zap.Int("prs_in_merge_set", len(mergeSet)),
		zap.Int("prs_merged", merged),
	)

	return &RunResult{
		InitialPRs:  screened.Initial,
		EligiblePRs: screened.Eligible,
		MergeSet:    mergeSet,
		Merged:      merged,
	}, nil
}
