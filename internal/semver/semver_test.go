package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		to       string
		expected Change
	}{
		{"patch increase", "4.17.20", "4.17.21", ChangePatch},
		{"minor increase", "4.17.21", "4.18.0", ChangeMinor},
		{"major increase", "4.17.21", "5.0.0", ChangeMajor},
		{"major increase with lower components", "1.5.9", "2.0.0", ChangeMajor},
		{"minor increase with lower patch", "1.5.9", "1.6.0", ChangeMinor},
		{"identical versions", "1.2.3", "1.2.3", ChangeUnknown},
		{"patch downgrade", "1.2.3", "1.2.2", ChangeUnknown},
		{"minor downgrade", "1.3.0", "1.2.9", ChangeUnknown},
		{"major downgrade", "2.0.0", "1.9.9", ChangeUnknown},
		{"empty from", "", "1.2.3", ChangeUnknown},
		{"empty to", "1.2.3", "", ChangeUnknown},
		{"prerelease suffixes ignored", "1.2.3-alpha.1", "1.2.4-beta.2", ChangePatch},
		{"leading v prefix", "v1.2.3", "v1.3.0", ChangeMinor},
		{"major only", "1", "2", ChangeMajor},
		{"major.minor only", "1.2", "1.3", ChangeMinor},
		{"unparseable from", "latest", "1.2.3", ChangeUnknown},
		{"unparseable to", "1.2.3", "latest", ChangeUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Diff(tc.from, tc.to))
		})
	}
}

func TestDiffCommitHashesAreNeverCompared(t *testing.T) {
	assert.Equal(t, ChangeUnknown, Diff("a1b2c3d", "d4e5f6a"))
	assert.Equal(t,
		ChangeUnknown,
		Diff(
			"5958f76c8a2095c66e7f923c0e8eee25e4a16884",
			"d50f48a55fd6f62e383b02b6eda96e0f24b2b15e",
		),
	)
}

func TestDiffIdenticalIgnoringQualifiers(t *testing.T) {
	assert.Equal(t, ChangeUnknown, Diff("1.2.3-rc.1", "1.2.3"))
	assert.Equal(t, ChangeUnknown, Diff("1.2.3", "1.2.3+build.5"))
}

func TestParseChange(t *testing.T) {
	c, ok := ParseChange("minor")
	assert.True(t, ok)
	assert.Equal(t, ChangeMinor, c)

	_, ok = ParseChange("gigantic")
	assert.False(t, ok)
}
