package automerge

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/navikt/automerge-dependabot-sub000/internal/depinfo"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
	"github.com/navikt/automerge-dependabot-sub000/internal/semver"
)

// Policy is the immutable per-run filter configuration.
type Policy struct {
	ignoredDependencies map[string]struct{}
	alwaysAllow         []string
	alwaysAllowLabels   map[string]struct{}
	ignoredVersions     []string

	// semverAllowed keeps the configured order for log and reason
	// messages, semverFilter is the membership set.
	semverAllowed []semver.Change
	semverFilter  map[semver.Change]struct{}
}

// NewPolicy builds a Policy from the raw configuration lists.
// Unrecognized semver-filter values are dropped with a warning.
// Label matching is case-insensitive, the labels are lowercased here once.
func NewPolicy(ignoredDependencies, alwaysAllow, alwaysAllowLabels, ignoredVersions, semverFilter []string) *Policy {
	labels := make(map[string]struct{}, len(alwaysAllowLabels))
	for _, label := range alwaysAllowLabels {
		labels[strings.ToLower(label)] = struct{}{}
	}

	p := &Policy{
		ignoredDependencies: toStrSet(ignoredDependencies),
		alwaysAllow:         alwaysAllow,
		alwaysAllowLabels:   labels,
		ignoredVersions:     ignoredVersions,
		semverFilter:        map[semver.Change]struct{}{},
	}

	for _, val := range semverFilter {
		change, ok := semver.ParseChange(val)
		if !ok {
			zap.L().Named(loggerName).Warn(
				"ignoring unknown semver filter value",
				logfields.Event("semver_filter_value_unknown"),
				zap.String("value", val),
			)

			continue
		}

		if _, exists := p.semverFilter[change]; exists {
			continue
		}

		p.semverAllowed = append(p.semverAllowed, change)
		p.semverFilter[change] = struct{}{}
	}

	return p
}

func (p *Policy) allowedList() string {
	vals := make([]string, 0, len(p.semverAllowed))
	for _, change := range p.semverAllowed {
		vals = append(vals, change.String())
	}

	return strings.Join(vals, ", ")
}

// ApplyFilters returns the subset of candidates that pass the configured
// policy. Every rejection is recorded in the reason ledger, keyed by the
// failing dependency name or GeneralReason for pull-request level reasons.
//
// A candidate passes only if every one of its dependency updates passes
// independently, one blocked dependency rejects the whole pull request.
// Pull requests carrying a label from the always-allow label list bypass all
// dependency-level checks.
func (a *Automerger) ApplyFilters(candidates []*Candidate) []*Candidate {
	result := make([]*Candidate, 0, len(candidates))

	for _, candidate := range candidates {
		if a.filterCandidate(candidate) {
			result = append(result, candidate)
		}
	}

	return result
}

func (a *Automerger) filterCandidate(candidate *Candidate) bool {
	pr := candidate.PR
	logger := a.logger.With(logfields.PullRequest(pr.Number))

	// the screener already verified the creator, kept as defense in depth
	if pr.Author != BotLogin {
		creator := pr.Author
		if creator == "" {
			creator = "unknown"
		}

		a.recordRejection(pr.Number, GeneralReason, fmt.Sprintf("Not created by Dependabot (creator: %s)", creator))
		return false
	}

	for _, label := range pr.Labels {
		if _, allow := a.policy.alwaysAllowLabels[strings.ToLower(label)]; allow {
			logger.Info(
				"pull request allowed by label, skipping dependency checks",
				logfields.Event("filter_label_bypass"),
				zap.String("label", label),
			)

			return true
		}
	}

	updates := candidate.Updates()
	if len(updates) == 0 {
		a.recordRejection(pr.Number, GeneralReason, "No dependency info available")
		return false
	}

	pass := true
	for i := range updates {
		update := &updates[i]

		reason, ok := a.policy.validateDependency(update, candidate.IsGrouped())
		if ok {
			continue
		}

		pass = false
		dependency := update.Name
		if dependency == "" {
			dependency = GeneralReason
		}

		a.recordRejection(pr.Number, dependency, reason)
	}

	return pass
}

func (a *Automerger) recordRejection(prNumber int, dependency, reason string) {
	a.ledger.Record(prNumber, dependency, reason)
	metrics.FilterRejectionsInc()

	a.logger.Debug(
		"pull request excluded from merge set",
		logfields.Event("filter_pr_rejected"),
		logfields.PullRequest(prNumber),
		logfields.Dependency(dependency),
		logfields.Reason(reason),
	)
}

// validateDependency decides whether a single dependency update is allowed
// by the policy. On rejection it returns the reason.
// The checks run in a fixed order: required fields, ignored dependency
// names, ignored versions, always-allow patterns (which bypass the semver
// gate), semver-class membership.
func (p *Policy) validateDependency(update *depinfo.Update, grouped bool) (reason string, ok bool) {
	if update.Name == "" || update.ToVersion == "" || update.SemverChange == "" {
		return "Dependency update is missing required information", false
	}

	if _, ignored := p.ignoredDependencies[update.Name]; ignored {
		return fmt.Sprintf("Dependency %q is in ignored list", update.Name), false
	}

	if p.versionIsIgnored(update) {
		return fmt.Sprintf("Version %q is in ignored list", update.Name+"@"+update.ToVersion), false
	}

	if ShouldAlwaysAllow(update.Name, p.alwaysAllow) {
		return "", true
	}

	if _, allowed := p.semverFilter[update.SemverChange]; !allowed {
		if grouped {
			return fmt.Sprintf("Semver change %q for %q is not in allowed list",
				update.SemverChange, update.Name), false
		}

		return fmt.Sprintf("Semver change %q is not in allowed list: %s",
			update.SemverChange, p.allowedList()), false
	}

	return "", true
}

// versionIsIgnored matches the update against the ignored-version entries.
// Entries have the form "name@version", "name@*" or a bare "name", the
// latter two ignore all versions of the dependency. The name must match
// exactly. A leading "@" of a scoped package name is not a separator.
func (p *Policy) versionIsIgnored(update *depinfo.Update) bool {
	for _, entry := range p.ignoredVersions {
		name := entry
		version := ""

		if idx := strings.LastIndex(entry, "@"); idx > 0 {
			name = entry[:idx]
			version = entry[idx+1:]
		}

		if name != update.Name {
			continue
		}

		if version == "" || version == "*" || version == update.ToVersion {
			return true
		}
	}

	return false
}

// ShouldAlwaysAllow returns true when the dependency name matches one of the
// always-allow patterns. A pattern matches when it is the wildcard "*", is
// equal to the name, is a "name:"-prefixed case-sensitive substring pattern,
// or is a literal prefix of the name. The prefix rule lets group identifiers
// like "org.group" match "org.group:artifact".
func ShouldAlwaysAllow(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}

		if pattern == name {
			return true
		}

		if rest, isNamePattern := strings.CutPrefix(pattern, "name:"); isNamePattern {
			if strings.Contains(name, rest) {
				return true
			}

			continue
		}

		if strings.HasPrefix(name, pattern) {
			return true
		}
	}

	return false
}
