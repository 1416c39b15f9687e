// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/contentsync/internal/logfields"
	"github.com/simplesurance/contentsync/internal/syncerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

var (
	// ErrNotAFile is returned when a path does not refer to a single
	// regular file, e.g. it is a directory, symlink or submodule.
	ErrNotAFile = errors.New("not a regular file")
	// ErrBranchExists is returned when a branch that should be created
	// already exists.
	ErrBranchExists = errors.New("branch already exists")
	// ErrFileChanged is returned when a file was modified after its SHA
	// was retrieved.
	ErrFileChanged = errors.New("file was changed concurrently")
)

// New returns a new github api client for github.com.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

// NewEnterprise returns a github api client that uses the passed REST and
// GraphQL endpoints.
// If graphQLURL is empty, the GraphQL endpoint is derived from restURL.
func NewEnterprise(oauthAPItoken, restURL, graphQLURL string) (*Client, error) {
	httpClient := newHTTPClient(oauthAPItoken)

	restClt, err := github.NewClient(httpClient).WithEnterpriseURLs(restURL, restURL)
	if err != nil {
		return nil, fmt.Errorf("setting github enterprise url failed: %w", err)
	}

	if graphQLURL == "" {
		graphQLURL = strings.TrimSuffix(restClt.BaseURL.String(), "v3/") + "graphql"
	}

	return &Client{
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(graphQLURL, httpClient),
		logger:     zap.L().Named(loggerName),
	}, nil
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

// Client is an github API client.
// All methods return a syncerr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// File is a snapshot of a file stored in a repository.
type File struct {
	Path string
	// SHA is the git blob object id of the file content.
	SHA     string
	Content []byte
}

// PullRequest references a pull request.
type PullRequest struct {
	Number int
	URL    string
}

// GetFile returns the file at path on ref.
// If ref is empty, the default branch of the repository is used.
// If path refers to a directory, symlink or submodule, an error wrapping
// ErrNotAFile is returned.
// File.Content is only set when withContent is true.
func (clt *Client) GetFile(ctx context.Context, owner, repo, path, ref string, withContent bool) (*File, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}

	fileContent, dirContent, _, err := clt.restClt.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	if fileContent == nil {
		return nil, fmt.Errorf("%w: %q is a directory with %d entries", ErrNotAFile, path, len(dirContent))
	}

	if typ := fileContent.GetType(); typ != "file" {
		return nil, fmt.Errorf("%w: %q has type %q", ErrNotAFile, path, typ)
	}

	if fileContent.GetSHA() == "" {
		return nil, fmt.Errorf("github returned file %q without sha", path)
	}

	result := File{
		Path: fileContent.GetPath(),
		SHA:  fileContent.GetSHA(),
	}

	if !withContent {
		return &result, nil
	}

	// the contents api does not return the content of files > 1 MB
	if fileContent.GetEncoding() == "none" {
		content, err := clt.blobContent(ctx, owner, repo, result.SHA)
		if err != nil {
			return nil, fmt.Errorf("retrieving blob %s of %q failed: %w", result.SHA, path, err)
		}

		result.Content = content

		return &result, nil
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding content of %q failed: %w", path, err)
	}

	result.Content = []byte(content)

	return &result, nil
}

func (clt *Client) blobContent(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	content, _, err := clt.restClt.Git.GetBlobRaw(ctx, owner, repo, sha)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return content, nil
}

// BranchHeadCommit returns the SHA of the commit branch points to.
func (clt *Client) BranchHeadCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	ref, _, err := clt.restClt.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("github returned branch %q without head commit sha", branch)
	}

	return sha, nil
}

// CreateBranch creates a branch that points to commitSHA.
// If the branch already exists, an error wrapping ErrBranchExists is
// returned.
func (clt *Client) CreateBranch(ctx context.Context, owner, repo, branch, commitSHA string) error {
	_, _, err := clt.restClt.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(commitSHA)},
	})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) &&
			respErr.Response.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(respErr.Message, "already exists") {
			return fmt.Errorf("%w: %w", ErrBranchExists, err)
		}

		return clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"branch created",
		logfields.Event("github_branch_created"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(commitSHA),
	)

	return nil
}

// UpdateFile replaces the content of the file at path on branch and returns
// the SHA of the created commit.
// expectedSHA must be the blob SHA of the file that is replaced, if it does
// not match the current file, an error wrapping ErrFileChanged is returned.
func (clt *Client) UpdateFile(ctx context.Context, owner, repo, branch, path string, content []byte, commitMsg, expectedSHA string) (string, error) {
	resp, _, err := clt.restClt.Repositories.UpdateFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.String(commitMsg),
		Content: content,
		SHA:     github.String(expectedSHA),
		Branch:  github.String(branch),
	})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusConflict {
			return "", fmt.Errorf("%w: %w", ErrFileChanged, err)
		}

		return "", clt.wrapRetryableErrors(err)
	}

	commitSHA := resp.Commit.GetSHA()
	if commitSHA == "" {
		return "", errors.New("github returned an update file response without commit sha")
	}

	return commitSHA, nil
}

// CreatePullRequest opens a pull request to merge head into base.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
	}, nil
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

		return syncerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		clt.logger.Info(
			"secondary rate limit exceeded",
			logfields.Event("github_api_secondary_rate_limit_exceeded"),
			zap.Duration("github_api_retry_after", v.GetRetryAfter()),
		)

		if v.GetRetryAfter() == 0 {
			return syncerr.NewRetryableAnytimeError(err)
		}

		return syncerr.NewRetryableError(err, time.Now().Add(v.GetRetryAfter()))

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return syncerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return syncerr.NewRetryableAnytimeError(err)
	}

	return err
}
