// Package depinfo extracts dependency-update records from the titles and
// bodies of dependabot pull requests.
//
// Dependabot describes updates in free text. Single-dependency updates carry
// everything in the title ("Bump lodash from 4.17.20 to 4.17.21"). Grouped
// and multi-dependency updates only name the group or the two dependencies in
// the title and list the individual version transitions in the body, either
// as "Updates `name` from x to y" lines or as a three-column markdown table.
package depinfo

import (
	"regexp"
	"strings"

	"github.com/navikt/automerge-dependabot-sub000/internal/semver"
)

// Update describes a single dependency version transition.
type Update struct {
	Name         string
	FromVersion  string
	ToVersion    string
	SemverChange semver.Change
}

var (
	singleTitleRe = regexp.MustCompile(`(?i)bumps? (\S+) from (\S+) to (\S+)`)

	// "Bump golang.org/x/net and google.golang.org/grpc in /tools"
	twoNameTitleRe = regexp.MustCompile(`(?i)^(?:\S+:\s*)?bumps? (\S+) and (\S+)( in \S+)?$`)

	// "Bump the go-dependencies group with 3 updates",
	// "build(deps): bump the npm group across 1 directory with 2 updates"
	groupTitleRe = regexp.MustCompile(`(?i)(?:^|:\s*)bumps? the \S+ (?:group|across|with|in|updates?)\b`)

	// "Updates `lodash` from 4.17.20 to 4.17.21"
	updatesLineRe = regexp.MustCompile("(?m)^Updates [`']?([^\\s`']+)[`']? from (\\S+) to (\\S+)")

	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

// ParseSingle extracts a single dependency update from a pull request title
// of the form "Bump <name> from <from> to <to>".
// It returns nil when the title does not match.
func ParseSingle(title string) *Update {
	m := singleTitleRe.FindStringSubmatch(title)
	if m == nil {
		return nil
	}

	return &Update{
		Name:         m[1],
		FromVersion:  m[2],
		ToVersion:    m[3],
		SemverChange: semver.Diff(m[2], m[3]),
	}
}

// IsMultiTitle returns true when the title has the shape of a grouped or
// two-dependency update.
func IsMultiTitle(title string) bool {
	return twoNameTitleRe.MatchString(title) || groupTitleRe.MatchString(title)
}

// ParseMultiple extracts the dependency updates of a grouped or
// two-dependency pull request from its title and body.
//
// The two-name title matcher is tried before the group title matcher, there
// is no backtracking between them: when the title matches the two-name shape
// the result is whatever the body line scan yields, even if that is nothing.
// An empty slice is returned when neither matcher applies.
func ParseMultiple(title, body string) []Update {
	if twoNameTitleRe.MatchString(title) {
		return parseUpdatesLines(body)
	}

	if groupTitleRe.MatchString(title) {
		return parseUpdateTable(body)
	}

	return nil
}

// parseUpdatesLines collects "Updates <name> from <from> to <to>" lines, in
// body order.
func parseUpdatesLines(body string) []Update {
	var result []Update

	for _, m := range updatesLineRe.FindAllStringSubmatch(body, -1) {
		result = append(result, Update{
			Name:         m[1],
			FromVersion:  m[2],
			ToVersion:    m[3],
			SemverChange: semver.Diff(m[2], m[3]),
		})
	}

	return result
}

// parseUpdateTable parses the "Package | From | To" markdown table dependabot
// puts into the body of grouped updates. The first two rows are the header
// and the separator. Rows that do not have exactly 3 cells are skipped.
func parseUpdateTable(body string) []Update {
	var result []Update

	row := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}

		row++
		if row <= 2 {
			continue
		}

		cells := splitTableRow(line)
		if len(cells) != 3 {
			continue
		}

		name := stripMarkdownLinks(cells[0])
		from := strings.Trim(cells[1], "`")
		to := strings.Trim(cells[2], "`")
		if name == "" {
			continue
		}

		result = append(result, Update{
			Name:         name,
			FromVersion:  from,
			ToVersion:    to,
			SemverChange: semver.Diff(from, to),
		})
	}

	return result
}

func splitTableRow(line string) []string {
	line = strings.Trim(line, "|")

	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, part := range parts {
		cells = append(cells, strings.TrimSpace(part))
	}

	return cells
}

// stripMarkdownLinks replaces "[text](url)" link syntax with "text".
func stripMarkdownLinks(s string) string {
	return strings.TrimSpace(markdownLinkRe.ReplaceAllString(s, "$1"))
}
