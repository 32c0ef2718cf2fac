package automerge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/automerge-dependabot-sub000/internal/githubclt"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

// MergePullRequests merges every candidate of the merge set and returns the
// number of successful merges.
//
// Merge failures are isolated per pull request, a failed merge is logged and
// the batch continues. When github rejects a merge because the base branch
// was modified in the meantime, the mergeability is re-checked and the merge
// is retried exactly once.
func (a *Automerger) MergePullRequests(ctx context.Context, candidates []*Candidate) int {
	merged := 0

	for i, candidate := range candidates {
		if i > 0 && a.mergeDelay > 0 {
			if err := sleepCtx(ctx, a.mergeDelay); err != nil {
				a.logger.Info(
					"merge batch aborted",
					logfields.Event("merge_batch_cancelled"),
					zap.Error(err),
				)

				return merged
			}
		}

		if a.mergePR(ctx, candidate) {
			merged++
		}
	}

	return merged
}

func (a *Automerger) mergePR(ctx context.Context, candidate *Candidate) bool {
	pr := candidate.PR
	logger := a.logger.With(logfields.PullRequest(pr.Number))

	if a.autoApprove {
		if err := a.ghClient.Approve(ctx, a.owner, a.repo, pr.Number); err != nil {
			logger.Warn(
				"approving pull request failed, skipping merge",
				logfields.Event("merge_approve_failed"),
				zap.Error(err),
			)

			return false
		}

		logger.Debug("pull request approved", logfields.Event("merge_pr_approved"))
	}

	err := a.ghClient.Merge(ctx, a.owner, a.repo, pr.Number, a.mergeMethod)
	if errors.Is(err, githubclt.ErrBaseBranchModified) {
		err = a.retryMergeAfterBaseChange(ctx, pr.Number, logger)
	}

	if err != nil {
		metrics.MergeFailuresInc()
		logger.Warn(
			"merging pull request failed",
			logfields.Event("merge_failed"),
			zap.Error(err),
		)

		return false
	}

	metrics.MergedPRsInc()
	logger.Info(
		"pull request merged",
		logfields.Event("merge_succeeded"),
		zap.String("merge_method", a.mergeMethod),
		zap.String("title", pr.Title),
	)

	return true
}

// retryMergeAfterBaseChange re-checks the mergeability of the pull request
// and retries the merge one single time.
func (a *Automerger) retryMergeAfterBaseChange(ctx context.Context, prNumber int, logger *zap.Logger) error {
	logger.Info(
		"base branch was modified during merge, re-checking mergeability and retrying once",
		logfields.Event("merge_base_branch_modified"),
	)

	mergeable, err := a.resolveMergeable(ctx, prNumber)
	if err != nil {
		return err
	}

	if !mergeable {
		return errors.New("pull request is no longer mergeable after base branch change")
	}

	return a.ghClient.Merge(ctx, a.owner, a.repo, prNumber, a.mergeMethod)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
