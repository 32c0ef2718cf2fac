// Package cfg loads the automerger configuration file.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
)

const (
	defMergeMethod     = "merge"
	defRetryDelayMs    = 1000
	defLogFormat       = "logfmt"
	defLogLevel        = "info"
	defLogTimeKey      = "time_iso8601"
	defMinimumAgeDays  = 0
	defBlackoutPeriods = ""
)

type Config struct {
	GithubAPIToken  string `toml:"github_api_token"`
	RepositoryOwner string `toml:"repository_owner"`
	Repository      string `toml:"repository"`

	MinimumAgeDays  int    `toml:"minimum_age_days"`
	BlackoutPeriods string `toml:"blackout_periods"`

	// IgnoredDependencies is a comma-separated list of dependency names.
	IgnoredDependencies string   `toml:"ignored_dependencies"`
	AlwaysAllow         []string `toml:"always_allow"`
	AlwaysAllowLabels   []string `toml:"always_allow_labels"`
	IgnoredVersions     []string `toml:"ignored_versions"`
	SemverFilter        []string `toml:"semver_filter"`

	MergeMethod  string `toml:"merge_method"`
	RetryDelayMs int    `toml:"retry_delay_ms"`
	MergeDelayMs int    `toml:"merge_delay_ms"`
	AutoApprove  bool   `toml:"auto_approve"`

	MetricsListenAddr string `toml:"metrics_listen_addr"`

	LogFormat  string `toml:"log_format"`
	LogTimeKey string `toml:"log_time_key"`
	LogLevel   string `toml:"log_level"`
}

// Load reads and validates a TOML configuration.
func Load(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	result := Config{
		MinimumAgeDays:  defMinimumAgeDays,
		BlackoutPeriods: defBlackoutPeriods,
		MergeMethod:     defMergeMethod,
		RetryDelayMs:    defRetryDelayMs,
		LogFormat:       defLogFormat,
		LogLevel:        defLogLevel,
		LogTimeKey:      defLogTimeKey,
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if err := result.validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) validate() error {
	if c.RepositoryOwner == "" {
		return errors.New("repository_owner is unset")
	}

	if c.Repository == "" {
		return errors.New("repository is unset")
	}

	switch c.MergeMethod {
	case "merge", "squash", "rebase":
	default:
		return fmt.Errorf("merge_method is %q, must be one of merge, squash, rebase", c.MergeMethod)
	}

	if c.MinimumAgeDays < 0 {
		return fmt.Errorf("minimum_age_days is %d, must be >=0", c.MinimumAgeDays)
	}

	if c.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms is %d, must be >=0", c.RetryDelayMs)
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}

// ResolveToken returns the github API token.
// A value starting with "$" is resolved via the named environment variable.
// An unset or unresolvable token is a configuration error, the caller must
// abort the run before doing any API call.
func (c *Config) ResolveToken() (string, error) {
	val := c.GithubAPIToken
	if val == "" {
		return "", errors.New("github_api_token is unset")
	}

	if !strings.HasPrefix(val, "$") {
		return val, nil
	}

	envVar := strings.TrimPrefix(val, "$")
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("github_api_token references environment variable %q which is unset or empty", envVar)
	}

	return token, nil
}

// IgnoredDependencyList splits the comma-separated ignored_dependencies
// value into the individual dependency names.
func (c *Config) IgnoredDependencyList() []string {
	var result []string

	for _, name := range strings.Split(c.IgnoredDependencies, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		result = append(result, name)
	}

	return result
}
