package contentsync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/githubclt"
	"github.com/simplesurance/contentsync/internal/logfields"
)

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	return c.clt.DefaultBranch(ctx, owner, repo)
}

func (c *DryGithubClient) GetFile(ctx context.Context, owner, repo, path, ref string, withContent bool) (*githubclt.File, error) {
	return c.clt.GetFile(ctx, owner, repo, path, ref, withContent)
}

func (c *DryGithubClient) BranchHeadCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	return c.clt.BranchHeadCommit(ctx, owner, repo, branch)
}

func (c *DryGithubClient) CreateBranch(_ context.Context, owner, repo, branch, commitSHA string) error {
	c.logger.Info(
		"simulated creating github branch, no branch created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(commitSHA),
	)

	return nil
}

func (c *DryGithubClient) UpdateFile(_ context.Context, owner, repo, branch, path string, content []byte, _, expectedSHA string) (string, error) {
	c.logger.Info(
		"simulated updating file, no commit created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.FilePath(path),
		zap.Int("content_length", len(content)),
		zap.String("expected_sha", expectedSHA),
	)

	return "", nil
}

func (c *DryGithubClient) CreatePullRequest(_ context.Context, owner, repo, head, base, title, _ string) (*githubclt.PullRequest, error) {
	c.logger.Info(
		"simulated creating pull request, no pull request created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(head),
		logfields.BaseBranch(base),
		zap.String("title", title),
	)

	return &githubclt.PullRequest{
		URL: fmt.Sprintf("https://github.com/%s/%s/compare/%s...%s", owner, repo, base, head),
	}, nil
}
