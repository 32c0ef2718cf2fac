// Package semver classifies the semantic-version delta of a dependency
// update.
package semver

import (
	"regexp"
	"strconv"
)

// Change is the classification of a version transition.
type Change string

const (
	ChangeMajor   Change = "major"
	ChangeMinor   Change = "minor"
	ChangePatch   Change = "patch"
	ChangeUnknown Change = "unknown"
)

func (c Change) String() string {
	return string(c)
}

// ParseChange converts a configuration string into a Change.
// Unrecognized values return ChangeUnknown and false.
func ParseChange(s string) (Change, bool) {
	switch Change(s) {
	case ChangeMajor, ChangeMinor, ChangePatch, ChangeUnknown:
		return Change(s), true
	}

	return ChangeUnknown, false
}

var (
	commitHashRe = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
	versionRe    = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	majorMinorRe = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?$`)
)

type triple struct {
	major, minor, patch int
}

// coerce extracts the first major.minor.patch triple from a version string.
// Pre-release and build suffixes and a leading "v" are tolerated.
// Plain "1" and "1.2" forms are padded with zeroes.
func coerce(version string) (triple, bool) {
	if m := versionRe.FindStringSubmatch(version); m != nil {
		return triple{
			major: mustAtoi(m[1]),
			minor: mustAtoi(m[2]),
			patch: mustAtoi(m[3]),
		}, true
	}

	if m := majorMinorRe.FindStringSubmatch(version); m != nil {
		t := triple{major: mustAtoi(m[1])}
		if m[2] != "" {
			t.minor = mustAtoi(m[2])
		}
		return t, true
	}

	return triple{}, false
}

func mustAtoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		// the regexps only capture digit runs
		panic(err)
	}

	return v
}

// Diff classifies the transition from one version string to another.
// It returns ChangeUnknown when either string is empty, when both look like
// git commit hashes, when either can not be coerced into a
// major.minor.patch triple, or when the transition is not an upgrade.
// Downgrades are never classified as a negative change, they are unknown.
func Diff(from, to string) Change {
	if from == "" || to == "" {
		return ChangeUnknown
	}

	// never compare pinned commit hashes as versions
	if commitHashRe.MatchString(from) && commitHashRe.MatchString(to) {
		return ChangeUnknown
	}

	fromV, ok := coerce(from)
	if !ok {
		return ChangeUnknown
	}

	toV, ok := coerce(to)
	if !ok {
		return ChangeUnknown
	}

	switch {
	case toV.major > fromV.major:
		return ChangeMajor
	case toV.major < fromV.major:
		return ChangeUnknown
	case toV.minor > fromV.minor:
		return ChangeMinor
	case toV.minor < fromV.minor:
		return ChangeUnknown
	case toV.patch > fromV.patch:
		return ChangePatch
	default:
		return ChangeUnknown
	}
}
