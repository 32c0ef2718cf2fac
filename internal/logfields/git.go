package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Dependency(val string) zap.Field {
	return zap.String("dependency.name", val)
}

func SemverChange(val string) zap.Field {
	return zap.String("dependency.semver_change", val)
}
