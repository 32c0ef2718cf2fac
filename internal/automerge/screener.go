package automerge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/navikt/automerge-dependabot-sub000/internal/depinfo"
	"github.com/navikt/automerge-dependabot-sub000/internal/githubclt"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

// mergeableMaxAttempts is the total number of detail fetches done while
// waiting for github to compute the mergeability of a pull request.
const mergeableMaxAttempts = 3

var errMergeableNull = errors.New("mergeable state is null")

// ScreenResult is the outcome of the eligibility screening.
type ScreenResult struct {
	// Eligible are the pull requests that passed all checks, enriched
	// with their dependency updates.
	Eligible []*Candidate
	// Initial is the full unfiltered list of open pull requests, kept
	// for reporting of pre-screen rejections.
	Initial []*githubclt.PullRequest
}

// FindMergeablePRs fetches all open pull requests and screens them for merge
// eligibility.
//
// The checks per pull request run in order and short-circuit on the first
// failure: created by dependabot, old enough, mergeable (with a retry loop
// while github has not computed the mergeable state yet), all commits
// authored or committed by dependabot, no failing combined status, no
// unresolved changes-requested review. A failing check records a reason in
// the ledger and the screening continues with the next pull request, the
// batch is never aborted by a single pull request.
func (a *Automerger) FindMergeablePRs(ctx context.Context) (*ScreenResult, error) {
	prs, err := a.ghClient.ListOpenPullRequests(ctx, a.owner, a.repo)
	if err != nil {
		return nil, fmt.Errorf("listing open pull requests failed: %w", err)
	}

	result := ScreenResult{Initial: prs}

	for _, pr := range prs {
		metrics.ProcessedPRsInc()

		candidate, err := a.screen(ctx, pr)
		if err != nil {
			return nil, err
		}

		if candidate == nil {
			continue
		}

		metrics.EligiblePRsInc()
		result.Eligible = append(result.Eligible, candidate)
	}

	return &result, nil
}

// screen runs the eligibility checks for a single pull request.
// It returns nil when the pull request is not eligible, the reason is then
// recorded in the ledger. An error is only returned for failures that must
// abort the whole run, like context cancellation.
func (a *Automerger) screen(ctx context.Context, pr *githubclt.PullRequest) (*Candidate, error) {
	logger := a.logger.With(logfields.PullRequest(pr.Number))

	if pr.Author != BotLogin {
		creator := pr.Author
		if creator == "" {
			creator = "unknown"
		}

		a.screenReject(logger, pr.Number, fmt.Sprintf("Not created by Dependabot (creator: %s)", creator))
		return nil, nil
	}

	if reason, ok := a.oldEnough(pr); !ok {
		a.screenReject(logger, pr.Number, reason)
		return nil, nil
	}

	mergeable, err := a.resolveMergeable(ctx, pr.Number)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		a.screenReject(logger, pr.Number,
			fmt.Sprintf("PR #%d mergeable state is still null after %d attempts", pr.Number, mergeableMaxAttempts))
		return nil, nil
	}

	if !mergeable {
		a.screenReject(logger, pr.Number, "not mergeable")
		return nil, nil
	}

	if reason, ok, err := a.commitsOnlyFromBot(ctx, pr, logger); err != nil {
		a.screenRejectErr(logger, pr.Number, "retrieving commits failed", err)
		return nil, nil
	} else if !ok {
		a.screenReject(logger, pr.Number, reason)
		return nil, nil
	}

	state, err := a.ghClient.CombinedStatus(ctx, a.owner, a.repo, pr.HeadSHA)
	if err != nil {
		a.screenRejectErr(logger, pr.Number, "retrieving combined status failed", err)
		return nil, nil
	}

	// pending does not block, only a definite failure does
	if state == "failure" {
		a.screenReject(logger, pr.Number, "failing status checks")
		return nil, nil
	}

	if reason, ok, err := a.noBlockingReview(ctx, pr.Number); err != nil {
		a.screenRejectErr(logger, pr.Number, "retrieving reviews failed", err)
		return nil, nil
	} else if !ok {
		a.screenReject(logger, pr.Number, reason)
		return nil, nil
	}

	return a.enrich(pr), nil
}

func (a *Automerger) screenReject(logger *zap.Logger, prNumber int, reason string) {
	a.ledger.Record(prNumber, GeneralReason, reason)

	logger.Info(
		"pull request not eligible",
		logfields.Event("screen_pr_rejected"),
		logfields.Reason(reason),
	)
}

func (a *Automerger) screenRejectErr(logger *zap.Logger, prNumber int, msg string, err error) {
	a.ledger.Record(prNumber, GeneralReason, fmt.Sprintf("%s: %s", msg, err))

	logger.Warn(
		"pull request not eligible, github request failed",
		logfields.Event("screen_pr_request_failed"),
		logfields.Reason(msg),
		zap.Error(err),
	)
}

func (a *Automerger) oldEnough(pr *githubclt.PullRequest) (reason string, ok bool) {
	age := time.Since(pr.CreatedAt)
	if age >= a.minimumAge {
		return "", true
	}

	return fmt.Sprintf("Too recent (created %d day(s) ago, needs to be at least %d days old)",
		int(age.Hours()/24), int(a.minimumAge.Hours()/24)), false
}

// resolveMergeable polls the pull request detail until github reports a
// non-null mergeable state.
// At most mergeableMaxAttempts fetches are done, with the configured retry
// delay in between. A transient API error consumes an attempt instead of
// failing the pull request immediately, the mergeable state is eventually
// consistent and so are API hiccups.
func (a *Automerger) resolveMergeable(ctx context.Context, prNumber int) (bool, error) {
	logger := a.logger.With(logfields.PullRequest(prNumber))

	var mergeable bool
	attempt := 0

	op := func() error {
		attempt++

		detail, err := a.ghClient.PullRequestDetail(ctx, a.owner, a.repo, prNumber)
		if err != nil {
			logger.Warn(
				"fetching pull request detail failed",
				logfields.Event("screen_detail_fetch_failed"),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)

			return err
		}

		if detail.Mergeable == nil {
			logger.Debug(
				"mergeable state not computed yet",
				logfields.Event("screen_mergeable_null"),
				zap.Int("attempt", attempt),
			)

			return errMergeableNull
		}

		mergeable = *detail.Mergeable

		logger.Info(
			fmt.Sprintf("PR #%d mergeable state determined: %t (attempt %d)", prNumber, mergeable, attempt),
			logfields.Event("screen_mergeable_determined"),
			zap.String("mergeable_state", detail.MergeableState),
		)

		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryDelay), mergeableMaxAttempts-1)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return false, err
	}

	return mergeable, nil
}

// commitsOnlyFromBot verifies that no commit of the pull request was made by
// somebody else than dependabot.
// A commit only fails the check when both its author and its committer are
// not the bot, github reports e.g. the web-flow committer for bot rebases.
func (a *Automerger) commitsOnlyFromBot(ctx context.Context, pr *githubclt.PullRequest, logger *zap.Logger) (reason string, ok bool, err error) {
	commits, err := a.ghClient.ListCommits(ctx, a.owner, a.repo, pr.Number)
	if err != nil {
		return "", false, err
	}

	var offending []string
	for _, commit := range commits {
		if commit.Author != BotLogin && commit.Committer != BotLogin {
			offending = append(offending, commit.SHA)
		}
	}

	if len(offending) == 0 {
		return "", true, nil
	}

	logger.Warn(
		"pull request contains commits not made by dependabot, possible security risk",
		logfields.Event("screen_foreign_commits"),
		zap.Strings("commits", offending),
	)

	return fmt.Sprintf("Contains commits not authored by Dependabot (security risk): %s",
		strings.Join(offending, ", ")), false, nil
}

// noBlockingReview checks that no review requested changes without a
// strictly later approval from the same reviewer.
func (a *Automerger) noBlockingReview(ctx context.Context, prNumber int) (reason string, ok bool, err error) {
	reviews, err := a.ghClient.ListReviews(ctx, a.owner, a.repo, prNumber)
	if err != nil {
		return "", false, err
	}

	for _, review := range reviews {
		if review.State != "CHANGES_REQUESTED" {
			continue
		}

		superseded := false
		for _, other := range reviews {
			if other.Reviewer == review.Reviewer &&
				other.State == "APPROVED" &&
				other.SubmittedAt.After(review.SubmittedAt) {
				superseded = true
				break
			}
		}

		if !superseded {
			return fmt.Sprintf("Changes requested by %q without a later approval", review.Reviewer), false, nil
		}
	}

	return "", true, nil
}

// enrich attaches the extracted dependency updates to an eligible pull
// request. Titles shaped like grouped or two-dependency updates get the
// multi-dependency extraction, with single extraction as the fallback when
// the body yields nothing.
func (a *Automerger) enrich(pr *githubclt.PullRequest) *Candidate {
	candidate := Candidate{PR: pr}

	if depinfo.IsMultiTitle(pr.Title) {
		if updates := depinfo.ParseMultiple(pr.Title, pr.Body); len(updates) > 0 {
			candidate.DependencyInfoList = updates
			return &candidate
		}
	}

	candidate.DependencyInfo = depinfo.ParseSingle(pr.Title)

	return &candidate
}
