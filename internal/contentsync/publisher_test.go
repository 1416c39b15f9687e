package contentsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/contentsync/internal/contentsync/mocks"
	"github.com/simplesurance/contentsync/internal/githubclt"
	"github.com/simplesurance/contentsync/internal/syncerr"
)

const (
	repo      = "repo"
	repoOwner = "testman"

	baseBranch = "main"
	newBranch  = "new-branch"
	filePath   = "file.txt"

	newContent = "New content"
	// newContentBlobSHA is the output of: printf 'New content' | git hash-object --stdin
	newContentBlobSHA = "8e2cae0e663740fdfc9be5a28b2e54a1d80ae5be"
	// newContentSHA1 is the output of: printf 'New content' | sha1sum
	newContentSHA1 = "af9f06b2b3b1546ac44f4a02994d0ef09e074b91"

	prURL = "https://github.com/testman/repo/pull/1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustNewJob(t *testing.T, base string, opts ...JobOption) *Job {
	t.Helper()

	job, err := NewJob(
		Repository{Owner: repoOwner, Name: repo},
		filePath, base, newBranch,
		[]byte(newContent),
		opts...,
	)
	require.NoError(t, err)

	return job
}

func mockGetFile(clt *mocks.MockGithubClient, ref string, withContent bool, file *githubclt.File, err error) *gomock.Call {
	return clt.
		EXPECT().
		GetFile(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(filePath), gomock.Eq(ref), gomock.Eq(withContent)).
		Return(file, err)
}

func mockBranchHeadCommit(clt *mocks.MockGithubClient, commit string) *gomock.Call {
	return clt.
		EXPECT().
		BranchHeadCommit(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(baseBranch)).
		Return(commit, nil)
}

func mockCreateBranch(clt *mocks.MockGithubClient, commit string, err error) *gomock.Call {
	return clt.
		EXPECT().
		CreateBranch(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(newBranch), gomock.Eq(commit)).
		Return(err)
}

func mockUpdateFile(clt *mocks.MockGithubClient, expectedSHA, resultCommit string, err error) *gomock.Call {
	return clt.
		EXPECT().
		UpdateFile(
			gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(newBranch), gomock.Eq(filePath),
			gomock.Eq([]byte(newContent)), gomock.Eq(DefCommitMessage), gomock.Eq(expectedSHA),
		).
		Return(resultCommit, err)
}

func mockCreatePullRequest(clt *mocks.MockGithubClient) *gomock.Call {
	return clt.
		EXPECT().
		CreatePullRequest(
			gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(newBranch), gomock.Eq(baseBranch),
			gomock.Eq(DefPullRequestTitle), gomock.Eq(DefPullRequestBody),
		).
		Return(&githubclt.PullRequest{Number: 1, URL: prURL}, nil)
}

func TestSyncContentUnchanged(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{
		Path:    filePath,
		SHA:     newContentBlobSHA,
		Content: []byte(newContent),
	}, nil).Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.NoError(t, err)

	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Equal(t, newContentBlobSHA, res.ExistingDigest)
	assert.Equal(t, newContentBlobSHA, res.DesiredDigest)
	assert.Nil(t, res.PullRequest)
	assert.Empty(t, res.Branch)
}

func TestSyncPublishesChangedContent(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	gomock.InOrder(
		mockGetFile(ghClient, baseBranch, false, &githubclt.File{
			Path:    filePath,
			SHA:     "abc123",
			Content: []byte("old content"),
		}, nil).Times(1),
		mockBranchHeadCommit(ghClient, "C1").Times(1),
		mockCreateBranch(ghClient, "C1", nil).Times(1),
		mockUpdateFile(ghClient, "abc123", "C2", nil).Times(1),
		mockCreatePullRequest(ghClient).Times(1),
	)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.NoError(t, err)

	assert.Equal(t, StatusPublished, res.Status)
	assert.Equal(t, "abc123", res.ExistingDigest)
	assert.Equal(t, newContentBlobSHA, res.DesiredDigest)
	assert.Equal(t, baseBranch, res.BaseBranch)
	assert.Equal(t, newBranch, res.Branch)
	assert.Equal(t, "C2", res.Commit)
	require.NotNil(t, res.PullRequest)
	assert.Equal(t, prURL, res.PullRequest.URL)
}

func TestSyncPathIsNotAFile(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, nil,
		fmt.Errorf("%w: %q is a directory with 2 entries", githubclt.ErrNotAFile, filePath),
	).Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.NoError(t, err)

	assert.Equal(t, StatusNotAFile, res.Status)
	assert.Empty(t, res.ExistingDigest)
	assert.Empty(t, res.DesiredDigest)
	assert.Nil(t, res.PullRequest)
}

func TestSyncBranchCreationFailureStopsWorkflow(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	mockCreateBranch(ghClient, "C1",
		fmt.Errorf("%w: 422 Reference already exists", githubclt.ErrBranchExists),
	).Times(1)
	ghClient.EXPECT().UpdateFile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	ghClient.EXPECT().CreatePullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.Error(t, err)
	assert.Nil(t, res)

	var stepErr *syncerr.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, syncerr.StepCreateBranch, stepErr.Step)
	assert.ErrorIs(t, err, githubclt.ErrBranchExists)
	assert.Contains(t, err.Error(), "Reference already exists")
}

func TestSyncStalePreconditionFailsWithoutPullRequest(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	mockCreateBranch(ghClient, "C1", nil).Times(1)
	mockUpdateFile(ghClient, "abc123", "",
		fmt.Errorf("%w: 409 file.txt does not match abc123", githubclt.ErrFileChanged),
	).Times(1)
	ghClient.EXPECT().CreatePullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	p := NewPublisher(ghClient, NewRetryer(0))
	_, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.Error(t, err)

	var stepErr *syncerr.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, syncerr.StepUpdateFile, stepErr.Step)
	assert.ErrorIs(t, err, githubclt.ErrFileChanged)
}

func TestSyncPullRequestFailureIsReported(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	mockCreateBranch(ghClient, "C1", nil).Times(1)
	mockUpdateFile(ghClient, "abc123", "C2", nil).Times(1)
	ghClient.
		EXPECT().
		CreatePullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("Validation Failed")).
		Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	_, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.Error(t, err)
	assert.EqualError(t, err, "creating pull request failed: Validation Failed")
}

func TestSyncResolvesDefaultBranch(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	ghClient.
		EXPECT().
		DefaultBranch(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo)).
		Return("trunk", nil).
		Times(1)
	mockGetFile(ghClient, "trunk", false, &githubclt.File{Path: filePath, SHA: newContentBlobSHA}, nil).Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, ""))
	require.NoError(t, err)

	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Equal(t, "trunk", res.BaseBranch)
}

func TestSyncFailsWhenDefaultBranchIsNewBranch(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	ghClient.EXPECT().DefaultBranch(gomock.Any(), gomock.Any(), gomock.Any()).Return(newBranch, nil).Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	_, err := p.Sync(context.Background(), mustNewJob(t, ""))

	var stepErr *syncerr.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, syncerr.StepResolveBaseBranch, stepErr.Step)
}

func TestSyncContentSHA1DetectionComparesContent(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, true, &githubclt.File{
		Path:    filePath,
		SHA:     "abc123",
		Content: []byte(newContent),
	}, nil).Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch, WithChangeDetection(ChangeDetectionContentSHA1)))
	require.NoError(t, err)

	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Equal(t, newContentSHA1, res.ExistingDigest)
	assert.Equal(t, newContentSHA1, res.DesiredDigest)
}

func TestSyncRendersTemplates(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	job, err := NewJob(
		Repository{Owner: repoOwner, Name: repo},
		filePath, baseBranch, newBranch,
		[]byte("synced into {{ .Owner }}/{{ .Repository }}@{{ .BaseBranch }}"),
		WithCommitMessage("Update {{ .FilePath }}"),
		WithPullRequest("Sync {{ .FilePath }}", "from {{ .NewBranch }}"),
		WithContentTemplate(),
	)
	require.NoError(t, err)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	mockCreateBranch(ghClient, "C1", nil).Times(1)
	ghClient.
		EXPECT().
		UpdateFile(
			gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(newBranch), gomock.Eq(filePath),
			gomock.Eq([]byte("synced into testman/repo@main")), gomock.Eq("Update file.txt"), gomock.Eq("abc123"),
		).
		Return("C2", nil).
		Times(1)
	ghClient.
		EXPECT().
		CreatePullRequest(
			gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(newBranch), gomock.Eq(baseBranch),
			gomock.Eq("Sync file.txt"), gomock.Eq("from new-branch"),
		).
		Return(&githubclt.PullRequest{Number: 1, URL: prURL}, nil).
		Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, res.Status)
	assert.Equal(t, GitBlobSHA1([]byte("synced into testman/repo@main")), res.DesiredDigest)
}

func TestSyncRetriesReadOperations(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	gomock.InOrder(
		mockGetFile(ghClient, baseBranch, false, nil,
			syncerr.NewRetryableAnytimeError(errors.New("502 bad gateway")),
		).Times(1),
		mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: newContentBlobSHA}, nil).Times(1),
	)

	retryer := NewRetryer(5 * time.Second)
	retryer.backoffInitialInterval = 10 * time.Millisecond
	t.Cleanup(retryer.Stop)

	p := NewPublisher(ghClient, retryer)
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, res.Status)
}

func TestSyncDoesNotRetryWriteOperations(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	mockCreateBranch(ghClient, "C1",
		syncerr.NewRetryableAnytimeError(errors.New("502 bad gateway")),
	).Times(1)

	retryer := NewRetryer(5 * time.Second)
	retryer.backoffInitialInterval = 10 * time.Millisecond
	t.Cleanup(retryer.Stop)

	p := NewPublisher(ghClient, retryer)
	_, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.Error(t, err)

	var retryableErr *syncerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestSyncDryRunDoesNotWrite(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	ghClient.EXPECT().CreateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	ghClient.EXPECT().UpdateFile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	ghClient.EXPECT().CreatePullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	p := NewPublisher(NewDryGithubClient(ghClient, zap.L()), NewRetryer(0))
	res, err := p.Sync(context.Background(), mustNewJob(t, baseBranch))
	require.NoError(t, err)

	assert.Equal(t, StatusPublished, res.Status)
	require.NotNil(t, res.PullRequest)
	assert.Equal(t, "https://github.com/testman/repo/compare/main...new-branch", res.PullRequest.URL)
}

func TestSyncWritesContentVerbatim(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	const content = "on: push\njobs:\n  build:\n    steps:\n      - run: echo ${{ github.sha }} {{ .Owner }}\n"

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	job, err := NewJob(Repository{Owner: repoOwner, Name: repo}, filePath, baseBranch, newBranch, []byte(content))
	require.NoError(t, err)

	mockGetFile(ghClient, baseBranch, false, &githubclt.File{Path: filePath, SHA: "abc123"}, nil).Times(1)
	mockBranchHeadCommit(ghClient, "C1").Times(1)
	mockCreateBranch(ghClient, "C1", nil).Times(1)
	ghClient.
		EXPECT().
		UpdateFile(
			gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(newBranch), gomock.Eq(filePath),
			gomock.Eq([]byte(content)), gomock.Eq(DefCommitMessage), gomock.Eq("abc123"),
		).
		Return("C2", nil).
		Times(1)
	mockCreatePullRequest(ghClient).Times(1)

	p := NewPublisher(ghClient, NewRetryer(0))
	res, err := p.Sync(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, res.Status)
	assert.Equal(t, GitBlobSHA1([]byte(content)), res.DesiredDigest)
}
