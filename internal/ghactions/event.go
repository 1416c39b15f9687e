package ghactions

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/logfields"
)

type pushEventRepoGetter interface {
	GetRepo() *github.PushEventRepository
}

type repoGetter interface {
	GetRepo() *github.Repository
}

type refGetter interface {
	GetRef() string
}

type afterGetter interface {
	GetAfter() string
}

type pullRequestGetter interface {
	GetPullRequest() *github.PullRequest
}

// Event is the event that triggered the workflow run.
type Event struct {
	Name string
	// JSON is the raw event payload, it is nil when the runner did not
	// provide one.
	JSON []byte

	// Fields extracted from the payload, if the value is not available
	// they are empty.
	RepositoryOwner string
	Repository      string
	BaseBranch      string
	Branch          string
	CommitID        string
	// PullRequestNr is 0 if it's not available
	PullRequestNr int
}

func (e *Event) String() string {
	if e.Repository == "" {
		return e.Name
	}

	return fmt.Sprintf("%s (%s/%s)", e.Name, e.RepositoryOwner, e.Repository)
}

// LogFields returns zap fields for the available event information.
func (e *Event) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 7) // cap == max. number of fields we append

	fields = append(fields, logfields.CIEventName(e.Name))

	if e.RepositoryOwner != "" {
		fields = append(fields, zap.String("ci.event.repository_owner", e.RepositoryOwner))
	}

	if e.Repository != "" {
		fields = append(fields, zap.String("ci.event.repository", e.Repository))
	}

	if e.BaseBranch != "" {
		fields = append(fields, zap.String("ci.event.base_branch", e.BaseBranch))
	}

	if e.Branch != "" {
		fields = append(fields, zap.String("ci.event.branch", e.Branch))
	}

	if e.CommitID != "" {
		fields = append(fields, zap.String("ci.event.commit_id", e.CommitID))
	}

	if e.PullRequestNr != 0 {
		fields = append(fields, zap.Int("ci.event.pull_request_nr", e.PullRequestNr))
	}

	return fields
}

// Event reads the event that triggered the workflow.
// Payloads of event types that go-github does not know are kept as raw JSON
// without extracting any fields.
func (e *Env) Event() (*Event, error) {
	name := e.getenv(EnvEventName)
	path := e.getenv(EnvEventPath)

	ev := Event{Name: name}

	if path == "" {
		e.log().Debug(
			"event payload path is unset, event payload is unavailable",
			logfields.Event("ci_event_payload_unavailable"),
			logfields.CIEventName(name),
		)

		return &ev, nil
	}

	payload, err := e.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("event payload file referenced by %s does not exist: %w", EnvEventPath, err)
		}

		return nil, fmt.Errorf("reading event payload file failed: %w", err)
	}

	ev.JSON = payload

	if name == "" {
		return &ev, nil
	}

	ghEvent, err := github.ParseWebHook(name, payload)
	if err != nil {
		e.log().Debug(
			"parsing event payload failed, continuing with raw payload",
			logfields.Event("ci_event_parsing_failed"),
			logfields.CIEventName(name),
			zap.Error(err),
		)

		return &ev, nil
	}

	extractEventInfo(ghEvent, &ev)

	return &ev, nil
}

func extractEventInfo(ghEvent any, result *Event) {
	if v, ok := ghEvent.(pushEventRepoGetter); ok {
		if repo := v.GetRepo(); repo != nil {
			result.Repository = repo.GetName()
			result.RepositoryOwner = repo.GetOwner().GetLogin()
		}
	} else if v, ok := ghEvent.(repoGetter); ok {
		if repo := v.GetRepo(); repo != nil {
			result.Repository = repo.GetName()
			result.RepositoryOwner = repo.GetOwner().GetLogin()
		}
	}

	if v, ok := ghEvent.(refGetter); ok {
		ref := v.GetRef()
		if strings.HasPrefix(ref, "refs/heads/") {
			result.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}

	if v, ok := ghEvent.(afterGetter); ok {
		result.CommitID = v.GetAfter()
	}

	if v, ok := ghEvent.(pullRequestGetter); ok {
		if pr := v.GetPullRequest(); pr != nil {
			result.PullRequestNr = pr.GetNumber()

			if head := pr.GetHead(); head != nil {
				result.CommitID = head.GetSHA()
				// the ref of the pull request head is the branch
				// name without refs/heads/ prefix
				result.Branch = head.GetRef()
			}

			result.BaseBranch = pr.GetBase().GetRef()
		}
	}
}
