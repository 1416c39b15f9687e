package contentsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/githubclt"
	"github.com/simplesurance/contentsync/internal/logfields"
	"github.com/simplesurance/contentsync/internal/syncerr"
)

const loggerName = "publisher"

// Status describes the outcome of a sync run.
type Status string

const (
	// StatusNotAFile is returned when the path refers to a directory or
	// another non-regular file.
	StatusNotAFile Status = "not_a_file"
	// StatusUnchanged is returned when the file already has the desired
	// content.
	StatusUnchanged Status = "unchanged"
	// StatusPublished is returned when a branch with the desired content
	// was created and a pull request was opened.
	StatusPublished Status = "published"
	// StatusSkipped is used when a run was not started because its
	// trigger did not match.
	StatusSkipped Status = "skipped"
)

// Result is the outcome of a successful Sync.
// Digests are empty when they were not computed.
type Result struct {
	Status         Status
	BaseBranch     string
	ExistingDigest string
	DesiredDigest  string

	// Branch, Commit and PullRequest are only set if Status is
	// StatusPublished.
	Branch      string
	Commit      string
	PullRequest *githubclt.PullRequest
}

// retryRunner runs functions repeatedly when they fail with a temporary error.
type retryRunner interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

// Publisher publishes changes of a file via pull requests.
type Publisher struct {
	clt     GithubClient
	retryer retryRunner
	logger  *zap.Logger
}

func NewPublisher(clt GithubClient, retryer retryRunner) *Publisher {
	return &Publisher{
		clt:     clt,
		retryer: retryer,
		logger:  zap.L().Named(loggerName),
	}
}

// Sync ensures that the file described by job has the desired content.
//
// Read operations are run via the retryer, write operations are run exactly once.
// When a step fails a *syncerr.StepError is returned, changes done by
// previous steps are not reverted.
func (p *Publisher) Sync(ctx context.Context, job *Job) (*Result, error) {
	startTime := time.Now()

	result, err := p.sync(ctx, job)

	metrics.ObserveSyncDuration(time.Since(startTime).Seconds())

	if err != nil {
		var stepErr *syncerr.StepError
		if errors.As(err, &stepErr) {
			metrics.FailedStepsInc(&job.Repository, stepErr.Step)
		}
		metrics.SyncRunsInc(&job.Repository, resultLabelFailureVal)

		p.logger.With(job.LogFields...).Error(
			"syncing file failed",
			logEventSyncFailed,
			zap.Error(err),
		)

		return nil, err
	}

	metrics.SyncRunsInc(&job.Repository, string(result.Status))

	return result, nil
}

func (p *Publisher) sync(ctx context.Context, job *Job) (*Result, error) {
	owner := job.Repository.Owner
	repo := job.Repository.Name
	logger := p.logger.With(job.LogFields...)

	baseBranch := job.BaseBranch
	if baseBranch == "" {
		err := p.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			baseBranch, err = p.clt.DefaultBranch(ctx, owner, repo)
			return err
		}, job.LogFields)
		if err != nil {
			return nil, syncerr.NewStepError(syncerr.StepResolveBaseBranch, err)
		}

		if baseBranch == job.NewBranch {
			return nil, syncerr.NewStepError(
				syncerr.StepResolveBaseBranch,
				fmt.Errorf("new branch %q is the default branch of the repository", job.NewBranch),
			)
		}

		logger = logger.With(logfields.BaseBranch(baseBranch))
		logger.Debug("resolved default branch", logfields.Event("sync_default_branch_resolved"))
	}

	job, err := job.Render(baseBranch)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepRender, err)
	}

	var file *githubclt.File
	var notAFile bool
	err = p.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		file, err = p.clt.GetFile(ctx, owner, repo, job.FilePath, baseBranch, job.ChangeDetection.needsContent())
		if errors.Is(err, githubclt.ErrNotAFile) {
			notAFile = true
			logger.Info(
				"path is not a regular file, nothing to do",
				logEventNotAFile,
				logFieldStatus(StatusNotAFile),
				zap.Error(err),
			)
			return nil
		}

		return err
	}, job.LogFields)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepGetFile, err)
	}

	if notAFile {
		return &Result{Status: StatusNotAFile, BaseBranch: baseBranch}, nil
	}

	existingDigest, desiredDigest, err := job.ChangeDetection.digests(file, job.Content)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepCompare, err)
	}

	logger.Info(
		"computed content digests",
		logEventDigestsComputed,
		zap.String("change_detection", string(job.ChangeDetection)),
		logfields.Digest("existing", existingDigest),
		logfields.Digest("desired", desiredDigest),
	)

	result := Result{
		BaseBranch:     baseBranch,
		ExistingDigest: existingDigest,
		DesiredDigest:  desiredDigest,
	}

	if existingDigest == desiredDigest {
		logger.Info(
			"content is identical, skipping commit and pull request creation",
			logEventContentUnchanged,
			logFieldStatus(StatusUnchanged),
		)

		result.Status = StatusUnchanged
		return &result, nil
	}

	var baseHead string
	err = p.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		baseHead, err = p.clt.BranchHeadCommit(ctx, owner, repo, baseBranch)
		return err
	}, job.LogFields)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepGetBranch, err)
	}

	err = p.clt.CreateBranch(ctx, owner, repo, job.NewBranch, baseHead)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepCreateBranch, err)
	}

	logger.Info(
		"branch created",
		logEventBranchCreated,
		logfields.Commit(baseHead),
	)

	commit, err := p.clt.UpdateFile(ctx, owner, repo, job.NewBranch, job.FilePath, job.Content, job.CommitMessage, file.SHA)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepUpdateFile, err)
	}

	logger.Info(
		"file updated",
		logEventFileUpdated,
		logfields.Commit(commit),
	)

	pr, err := p.clt.CreatePullRequest(ctx, owner, repo, job.NewBranch, baseBranch, job.PullRequestTitle, job.PullRequestBody)
	if err != nil {
		return nil, syncerr.NewStepError(syncerr.StepCreatePullRequest, err)
	}

	logger.Info(
		fmt.Sprintf("pull request created: %s", pr.URL),
		logEventPullRequestOpened,
		logFieldStatus(StatusPublished),
		logfields.PullRequest(pr.Number),
		logfields.PullRequestURL(pr.URL),
	)

	result.Status = StatusPublished
	result.Branch = job.NewBranch
	result.Commit = commit
	result.PullRequest = pr

	return &result, nil
}
