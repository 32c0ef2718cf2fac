package cfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
github_api_token = "$GITHUB_TOKEN"
repository_owner = "navikt"
repository = "my-app"

minimum_age_days = 3
blackout_periods = "Sat,Sun,Dec 20-Jan 5"

ignored_dependencies = "lodash, webpack"
always_allow = ["no.nav.appsec:"]
always_allow_labels = ["automerge"]
ignored_versions = ["axios@1.0.0"]
semver_filter = ["patch", "minor"]

merge_method = "squash"
retry_delay_ms = 500
merge_delay_ms = 2000
auto_approve = true

metrics_listen_addr = "localhost:9100"
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "navikt", config.RepositoryOwner)
	assert.Equal(t, "my-app", config.Repository)
	assert.Equal(t, 3, config.MinimumAgeDays)
	assert.Equal(t, "Sat,Sun,Dec 20-Jan 5", config.BlackoutPeriods)
	assert.Equal(t, []string{"lodash", "webpack"}, config.IgnoredDependencyList())
	assert.Equal(t, []string{"no.nav.appsec:"}, config.AlwaysAllow)
	assert.Equal(t, []string{"automerge"}, config.AlwaysAllowLabels)
	assert.Equal(t, []string{"axios@1.0.0"}, config.IgnoredVersions)
	assert.Equal(t, []string{"patch", "minor"}, config.SemverFilter)
	assert.Equal(t, "squash", config.MergeMethod)
	assert.Equal(t, 500, config.RetryDelayMs)
	assert.Equal(t, 2000, config.MergeDelayMs)
	assert.True(t, config.AutoApprove)
	assert.Equal(t, "localhost:9100", config.MetricsListenAddr)
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(`
repository_owner = "navikt"
repository = "my-app"
`))
	require.NoError(t, err)

	assert.Equal(t, "merge", config.MergeMethod)
	assert.Equal(t, 1000, config.RetryDelayMs)
	assert.Zero(t, config.MergeDelayMs)
	assert.Zero(t, config.MinimumAgeDays)
	assert.Empty(t, config.BlackoutPeriods)
	assert.Empty(t, config.IgnoredDependencyList())
	assert.False(t, config.AutoApprove)
	assert.Equal(t, "logfmt", config.LogFormat)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLoadFailsOnInvalidConfig(t *testing.T) {
	for _, tc := range []struct {
		name       string
		config     string
		wantErrStr string
	}{
		{
			name:       "missing owner",
			config:     `repository = "my-app"`,
			wantErrStr: "repository_owner",
		},
		{
			name:       "missing repository",
			config:     `repository_owner = "navikt"`,
			wantErrStr: "repository is unset",
		},
		{
			name: "invalid merge method",
			config: `
repository_owner = "navikt"
repository = "my-app"
merge_method = "fast-forward"
`,
			wantErrStr: "merge_method",
		},
		{
			name: "negative minimum age",
			config: `
repository_owner = "navikt"
repository = "my-app"
minimum_age_days = -1
`,
			wantErrStr: "minimum_age_days",
		},
		{
			name: "negative retry delay",
			config: `
repository_owner = "navikt"
repository = "my-app"
retry_delay_ms = -500
`,
			wantErrStr: "retry_delay_ms",
		},
		{
			name:       "invalid toml",
			config:     `repository_owner = `,
			wantErrStr: "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.config))
			require.Error(t, err)

			if tc.wantErrStr != "" {
				assert.Contains(t, err.Error(), tc.wantErrStr)
			}
		})
	}
}

func TestResolveToken(t *testing.T) {
	config := Config{GithubAPIToken: "ghp_plaintoken"}
	token, err := config.ResolveToken()
	require.NoError(t, err)
	assert.Equal(t, "ghp_plaintoken", token)
}

func TestResolveTokenFromEnv(t *testing.T) {
	t.Setenv("AUTOMERGER_TEST_TOKEN", "ghp_fromenv")

	config := Config{GithubAPIToken: "$AUTOMERGER_TEST_TOKEN"}
	token, err := config.ResolveToken()
	require.NoError(t, err)
	assert.Equal(t, "ghp_fromenv", token)
}

func TestResolveTokenFailsOnUnsetEnvVar(t *testing.T) {
	config := Config{GithubAPIToken: "$AUTOMERGER_TEST_TOKEN_UNSET"}
	_, err := config.ResolveToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOMERGER_TEST_TOKEN_UNSET")
}

func TestResolveTokenFailsWhenUnset(t *testing.T) {
	config := Config{}
	_, err := config.ResolveToken()
	require.Error(t, err)
}

func TestMarshalRoundtrip(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, config.Marshal(&buf))

	reloaded, err := Load(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, config, reloaded)
}
