package contentsync

import (
	"context"

	"github.com/simplesurance/contentsync/internal/githubclt"
)

//go:generate mockgen -destination=mocks/mock_githubclient.go -package=mocks -source=githubclient.go

// GithubClient is the subset of GitHub API operations used by the Publisher.
type GithubClient interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	GetFile(ctx context.Context, owner, repo, path, ref string, withContent bool) (*githubclt.File, error)
	BranchHeadCommit(ctx context.Context, owner, repo, branch string) (string, error)
	CreateBranch(ctx context.Context, owner, repo, branch, commitSHA string) error
	UpdateFile(ctx context.Context, owner, repo, branch, path string, content []byte, commitMsg, expectedSHA string) (string, error)
	CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*githubclt.PullRequest, error)
}
