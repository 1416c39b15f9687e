package contentsync

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/logfields"
	"github.com/simplesurance/contentsync/internal/stringutils"
)

const (
	DefCommitMessage    = "Update file"
	DefPullRequestTitle = "New Pull Request"
	DefPullRequestBody  = "This is a new pull request"
)

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

func (r *Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Job describes a file that is kept in sync.
type Job struct {
	Repository Repository
	FilePath   string
	// BaseBranch is the branch the file is read from and the pull
	// request is opened against. If it is empty, the default branch of
	// the repository is used.
	BaseBranch string
	// NewBranch is created when the content differs, it must not exist.
	NewBranch string
	// Content is the desired file content. It is written verbatim unless
	// ContentTemplate is true.
	Content []byte
	// ContentTemplate enables executing Content as template, see Render.
	ContentTemplate bool

	CommitMessage    string
	PullRequestTitle string
	PullRequestBody  string
	ChangeDetection  ChangeDetection

	LogFields []zap.Field
}

type JobOption func(*Job)

func WithCommitMessage(msg string) JobOption {
	return func(j *Job) {
		j.CommitMessage = msg
	}
}

func WithPullRequest(title, body string) JobOption {
	return func(j *Job) {
		j.PullRequestTitle = title
		j.PullRequestBody = body
	}
}

// WithContentTemplate causes the content to be executed as text/template
// when the job is rendered.
func WithContentTemplate() JobOption {
	return func(j *Job) {
		j.ContentTemplate = true
	}
}

func WithChangeDetection(c ChangeDetection) JobOption {
	return func(j *Job) {
		j.ChangeDetection = c
	}
}

// NewJob returns a validated Job.
// The templates in the commit message and pull request fields, and in the
// content when WithContentTemplate is passed, are parsed. Executing them
// happens when the job is rendered.
func NewJob(repo Repository, filePath, baseBranch, newBranch string, content []byte, opts ...JobOption) (*Job, error) {
	j := Job{
		Repository:       repo,
		FilePath:         strings.TrimPrefix(filePath, "/"),
		BaseBranch:       baseBranch,
		NewBranch:        newBranch,
		Content:          content,
		CommitMessage:    DefCommitMessage,
		PullRequestTitle: DefPullRequestTitle,
		PullRequestBody:  DefPullRequestBody,
		ChangeDetection:  ChangeDetectionGitBlob,
	}

	for _, o := range opts {
		o(&j)
	}

	if err := j.validate(); err != nil {
		return nil, err
	}

	j.LogFields = []zap.Field{
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.Name),
		logfields.FilePath(j.FilePath),
		logfields.Branch(newBranch),
	}
	if baseBranch != "" {
		j.LogFields = append(j.LogFields, logfields.BaseBranch(baseBranch))
	}

	return &j, nil
}

func (j *Job) validate() error {
	if j.Repository.Owner == "" {
		return errors.New("repository owner is empty")
	}

	if j.Repository.Name == "" {
		return errors.New("repository name is empty")
	}

	if j.FilePath == "" {
		return errors.New("file path is empty")
	}

	if err := validateBranchName(j.NewBranch); err != nil {
		return fmt.Errorf("new branch: %w", err)
	}

	if j.BaseBranch != "" {
		if err := validateBranchName(j.BaseBranch); err != nil {
			return fmt.Errorf("base branch: %w", err)
		}

		if j.BaseBranch == j.NewBranch {
			return fmt.Errorf("new branch and base branch are the same: %q", j.NewBranch)
		}
	}

	if j.CommitMessage == "" {
		return errors.New("commit message is empty")
	}

	if j.PullRequestTitle == "" {
		return errors.New("pull request title is empty")
	}

	changeDetection, err := ParseChangeDetection(string(j.ChangeDetection))
	if err != nil {
		return err
	}
	j.ChangeDetection = changeDetection

	for name, templ := range j.templatedFields() {
		if _, err := parseTemplate(*templ); err != nil {
			return fmt.Errorf("parsing %s template failed: %w", name, err)
		}
	}

	return nil
}

func validateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name is empty")
	}

	if strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("%q must be a branch name, not a reference", name)
	}

	if strings.ContainsAny(name, " \t\n~^:?*[\\") || strings.Contains(name, "..") {
		return fmt.Errorf("%q is not a valid branch name", name)
	}

	return nil
}

func (j *Job) templatedFields() map[string]*string {
	result := map[string]*string{
		"commit message":     &j.CommitMessage,
		"pull request title": &j.PullRequestTitle,
		"pull request body":  &j.PullRequestBody,
	}

	if j.ContentTemplate {
		content := string(j.Content)
		result["content"] = &content
	}

	return result
}

// Render returns a copy of the job with all template strings executed.
// The content is only executed when ContentTemplate is true.
// baseBranch is the resolved base branch, it is used when job.BaseBranch is
// empty.
func (j *Job) Render(baseBranch string) (*Job, error) {
	var err error

	newJob := *j
	if newJob.BaseBranch == "" {
		newJob.BaseBranch = baseBranch
	}

	render := renderFunc(templateDataFromJob(&newJob))

	if j.ContentTemplate {
		content, err := render(string(j.Content))
		if err != nil {
			return nil, fmt.Errorf("templating content failed: %w", err)
		}
		newJob.Content = []byte(content)
	}

	newJob.CommitMessage, err = render(j.CommitMessage)
	if err != nil {
		return nil, fmt.Errorf("templating commit message failed: %w", err)
	}

	newJob.PullRequestTitle, err = render(j.PullRequestTitle)
	if err != nil {
		return nil, fmt.Errorf("templating pull request title failed: %w", err)
	}

	newJob.PullRequestBody, err = render(j.PullRequestBody)
	if err != nil {
		return nil, fmt.Errorf("templating pull request body failed: %w", err)
	}

	return &newJob, nil
}

func (j *Job) String() string {
	return fmt.Sprintf("%s: %s", j.Repository.String(), j.FilePath)
}

// DetailedString returns a multi-line description of the job.
func (j *Job) DetailedString() string {
	var result strings.Builder

	baseBranch := j.BaseBranch
	if baseBranch == "" {
		baseBranch = "<default branch>"
	}

	result.WriteString(fmt.Sprintf("Repository: %s\n", j.Repository.String()))
	result.WriteString(fmt.Sprintf("File: %s\n", j.FilePath))
	result.WriteString(fmt.Sprintf("Branches: %s <- %s\n", baseBranch, j.NewBranch))
	result.WriteString(fmt.Sprintf("ChangeDetection: %s\n", j.ChangeDetection))
	result.WriteString(fmt.Sprintf("ContentTemplate: %t\n", j.ContentTemplate))
	result.WriteString(fmt.Sprintf("CommitMessage: %s\n", j.CommitMessage))
	result.WriteString(fmt.Sprintf("PullRequest:\n%s\n", stringutils.IndentString(j.PullRequestTitle+"\n\n"+j.PullRequestBody, "  ")))
	result.WriteString(fmt.Sprintf("Content:\n%s", stringutils.IndentString(string(j.Content), "  ")))

	return result.String()
}
