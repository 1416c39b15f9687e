package githubclt

import (
	"context"
	"errors"

	"github.com/shurcooL/githubv4"
)

// DefaultBranch returns the name of the default branch of the repository.
func (clt *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var q struct {
		Repository struct {
			DefaultBranchRef struct {
				Name string
			}
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return "", clt.wrapGraphQLRetryableErrors(err)
	}

	name := q.Repository.DefaultBranchRef.Name
	if name == "" {
		return "", errors.New("github returned an empty default branch name, repository might be empty")
	}

	return name, nil
}
