// Package githubclt provides a github API client.
//
// All results are converted into explicit record types at this boundary, the
// rest of the program never sees go-github wire objects.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/navikt/automerge-dependabot-sub000/internal/goorderr"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

const listPageSize = 100

// ErrBaseBranchModified is returned by Merge when github rejected the merge
// because the base branch changed while the merge was processed. The caller
// can re-check mergeability and retry.
var ErrBaseBranchModified = errors.New("base branch was modified")

// New returns a new github api client.
func New(oauthAPIToken string) *Client {
	return &Client{
		restClt: github.NewClient(newHTTPClient(oauthAPIToken)),
		logger:  zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods return a goorderr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt *github.Client
	logger  *zap.Logger
}

// PullRequest is the read-only view of an open pull request, fetched fresh
// per run.
type PullRequest struct {
	Number    int
	Author    string
	CreatedAt time.Time
	Title     string
	Body      string
	HeadSHA   string
	Labels    []string
}

// PullRequestDetail is the per-PR detail record.
// Mergeable is nil as long as github has not finished computing the
// mergeability of the pull request.
type PullRequestDetail struct {
	Mergeable      *bool
	MergeableState string
}

// Commit is a single commit of a pull request.
type Commit struct {
	SHA       string
	Author    string
	Committer string
}

// Review is a submitted pull request review.
type Review struct {
	State       string
	Reviewer    string
	SubmittedAt time.Time
}

func newPullRequest(pr *github.PullRequest) (*PullRequest, error) {
	if pr.GetNumber() <= 0 {
		return nil, errors.New("got pull request object without number")
	}

	head := pr.GetHead()
	if head == nil || head.GetSHA() == "" {
		return nil, fmt.Errorf("pull request %d has no head commit sha", pr.GetNumber())
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, label := range pr.Labels {
		labels = append(labels, label.GetName())
	}

	return &PullRequest{
		Number:    pr.GetNumber(),
		Author:    pr.GetUser().GetLogin(),
		CreatedAt: pr.GetCreatedAt(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		HeadSHA:   head.GetSHA(),
		Labels:    labels,
	}, nil
}

// ListOpenPullRequests returns all open pull requests of the repository,
// sorted ascending by creation time.
func (clt *Client) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*PullRequest, error) {
	var result []*PullRequest

	opts := &github.PullRequestListOptions{
		State:     "open",
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			PerPage: listPageSize,
		},
	}

	for {
		prs, resp, err := clt.restClt.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, pr := range prs {
			record, err := newPullRequest(pr)
			if err != nil {
				clt.logger.Warn(
					"skipping malformed pull request object",
					logfields.Event("github_pr_object_malformed"),
					logfields.RepositoryOwner(owner),
					logfields.Repository(repo),
					zap.Error(err),
				)

				continue
			}

			result = append(result, record)
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// PullRequestDetail fetches the mergeability record of a pull request.
func (clt *Client) PullRequestDetail(ctx context.Context, owner, repo string, prNumber int) (*PullRequestDetail, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return &PullRequestDetail{
		Mergeable:      pr.Mergeable,
		MergeableState: pr.GetMergeableState(),
	}, nil
}

// ListCommits returns the commits of a pull request with the github logins of
// their author and committer.
func (clt *Client) ListCommits(ctx context.Context, owner, repo string, prNumber int) ([]*Commit, error) {
	var result []*Commit

	opts := &github.ListOptions{PerPage: listPageSize}
	for {
		commits, resp, err := clt.restClt.PullRequests.ListCommits(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, commit := range commits {
			result = append(result, &Commit{
				SHA:       commit.GetSHA(),
				Author:    commit.GetAuthor().GetLogin(),
				Committer: commit.GetCommitter().GetLogin(),
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// CombinedStatus returns the combined commit status state for a git ref.
// The returned state is one of "success", "pending" and "failure".
func (clt *Client) CombinedStatus(ctx context.Context, owner, repo, ref string) (string, error) {
	status, _, err := clt.restClt.Repositories.GetCombinedStatus(ctx, owner, repo, ref, &github.ListOptions{})
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	return status.GetState(), nil
}

// ListReviews returns the submitted reviews of a pull request in submission
// order.
func (clt *Client) ListReviews(ctx context.Context, owner, repo string, prNumber int) ([]*Review, error) {
	var result []*Review

	opts := &github.ListOptions{PerPage: listPageSize}
	for {
		reviews, resp, err := clt.restClt.PullRequests.ListReviews(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, review := range reviews {
			result = append(result, &Review{
				State:       review.GetState(),
				Reviewer:    review.GetUser().GetLogin(),
				SubmittedAt: review.GetSubmittedAt(),
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// Merge merges a pull request with the given merge method ("merge", "squash"
// or "rebase").
// ErrBaseBranchModified is returned when github rejected the merge because
// the base branch changed in the meantime.
func (clt *Client) Merge(ctx context.Context, owner, repo string, prNumber int, method string) error {
	opts := &github.PullRequestOptions{MergeMethod: method}

	_, _, err := clt.restClt.PullRequests.Merge(ctx, owner, repo, prNumber, "", opts)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) &&
			strings.Contains(strings.ToLower(respErr.Message), "base branch was modified") {
			return fmt.Errorf("%w: %s", ErrBaseBranchModified, respErr.Message)
		}

		return clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"pull request merged",
		logfields.Event("github_pr_merged"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
	)

	return nil
}

// Approve submits an approving review for a pull request.
func (clt *Client) Approve(ctx context.Context, owner, repo string, prNumber int) error {
	_, _, err := clt.restClt.PullRequests.CreateReview(ctx, owner, repo, prNumber, &github.PullRequestReviewRequest{
		Event: github.String("APPROVE"),
	})

	return clt.wrapRetryableErrors(err)
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return goorderr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return goorderr.NewRetryableAnytimeError(err)
		}
	}

	return err
}
