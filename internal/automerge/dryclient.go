package automerge

import (
	"context"

	"go.uber.org/zap"

	"github.com/navikt/automerge-dependabot-sub000/internal/githubclt"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

// DryClient is a github client that does not do any changes on github.
// Merge and approve calls are simulated and always succeed, all read
// operations are forwarded to the wrapped client.
type DryClient struct {
	clt    GithubClient
	logger *zap.Logger
}

var _ GithubClient = (*DryClient)(nil)

func NewDryClient(clt GithubClient, logger *zap.Logger) *DryClient {
	return &DryClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryClient) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*githubclt.PullRequest, error) {
	return c.clt.ListOpenPullRequests(ctx, owner, repo)
}

func (c *DryClient) PullRequestDetail(ctx context.Context, owner, repo string, prNumber int) (*githubclt.PullRequestDetail, error) {
	return c.clt.PullRequestDetail(ctx, owner, repo, prNumber)
}

func (c *DryClient) ListCommits(ctx context.Context, owner, repo string, prNumber int) ([]*githubclt.Commit, error) {
	return c.clt.ListCommits(ctx, owner, repo, prNumber)
}

func (c *DryClient) CombinedStatus(ctx context.Context, owner, repo, ref string) (string, error) {
	return c.clt.CombinedStatus(ctx, owner, repo, ref)
}

func (c *DryClient) ListReviews(ctx context.Context, owner, repo string, prNumber int) ([]*githubclt.Review, error) {
	return c.clt.ListReviews(ctx, owner, repo, prNumber)
}

func (c *DryClient) Merge(_ context.Context, _, _ string, prNumber int, method string) error {
	c.logger.Info(
		"simulated merging of pull request, nothing merged on github",
		logfields.Event("dry_merge"),
		logfields.PullRequest(prNumber),
		zap.String("merge_method", method),
	)

	return nil
}

func (c *DryClient) Approve(_ context.Context, _, _ string, prNumber int) error {
	c.logger.Info(
		"simulated approval of pull request, no review created on github",
		logfields.Event("dry_approve"),
		logfields.PullRequest(prNumber),
	)

	return nil
}
