package automerge

import "sort"

// GeneralReason is the ledger dependency key for reasons that concern the
// whole pull request instead of a single dependency.
const GeneralReason = "general"

// ReasonEntry is one recorded filter decision.
type ReasonEntry struct {
	Dependency string
	Reason     string
}

// Ledger records why pull requests were excluded from the merge set.
// It maps pull request numbers to their ordered reason entries and keeps a
// reverse index from dependency names to pull request numbers.
// A Ledger is created fresh per run and is only written by the single
// execution path of the run, it needs no locking.
type Ledger struct {
	byPR         map[int][]ReasonEntry
	byDependency map[string]map[int]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		byPR:         map[int][]ReasonEntry{},
		byDependency: map[string]map[int]struct{}{},
	}
}

// Record appends a reason for the pull request under the given dependency
// name. Use GeneralReason for reasons that are not dependency specific.
func (l *Ledger) Record(prNumber int, dependency, reason string) {
	l.byPR[prNumber] = append(l.byPR[prNumber], ReasonEntry{
		Dependency: dependency,
		Reason:     reason,
	})

	prs, exist := l.byDependency[dependency]
	if !exist {
		prs = map[int]struct{}{}
		l.byDependency[dependency] = prs
	}

	prs[prNumber] = struct{}{}
}

// Reasons returns the recorded entries for a pull request in recording
// order.
func (l *Ledger) Reasons(prNumber int) []ReasonEntry {
	return l.byPR[prNumber]
}

// PullRequests returns the sorted numbers of all pull requests with a
// recorded reason for the dependency.
func (l *Ledger) PullRequests(dependency string) []int {
	result := make([]int, 0, len(l.byDependency[dependency]))
	for nr := range l.byDependency[dependency] {
		result = append(result, nr)
	}

	sort.Ints(result)

	return result
}

// PRNumbers returns the sorted numbers of all pull requests with at least
// one recorded reason.
func (l *Ledger) PRNumbers() []int {
	result := make([]int, 0, len(l.byPR))
	for nr := range l.byPR {
		result = append(result, nr)
	}

	sort.Ints(result)

	return result
}
