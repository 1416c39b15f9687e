package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func PullRequestURL(val string) zap.Field {
	return zap.String("github.pull_request_url", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func BaseBranch(val string) zap.Field {
	return zap.String("git.base_branch", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func FilePath(val string) zap.Field {
	return zap.String("git.file_path", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Digest(name, val string) zap.Field {
	return zap.String(name+"_digest", val)
}
