package effort

import "github.com/verte-zerg/proofwork/internal/model"

// SessionProvider exposes the active session id, if any.
type SessionProvider interface {
	ActiveSessionID() (int64, bool)
}

// SessionFunc adapts a function to SessionProvider.
type SessionFunc func() (int64, bool)

// ActiveSessionID implements SessionProvider.
func (f SessionFunc) ActiveSessionID() (int64, bool) {
	return f()
}

// StaticSession always reports id as active.
func StaticSession(id int64) SessionProvider {
	return SessionFunc(func() (int64, bool) { return id, true })
}

// DisclosurePolicy decides whether the market disclosure step is skipped.
type DisclosurePolicy interface {
	ShouldSkipMarketDisclosure(state model.SkillsRankingSessionState) bool
}

// PolicyFunc adapts a function to DisclosurePolicy.
type PolicyFunc func(state model.SkillsRankingSessionState) bool

// ShouldSkipMarketDisclosure implements DisclosurePolicy.
func (f PolicyFunc) ShouldSkipMarketDisclosure(state model.SkillsRankingSessionState) bool {
	return f(state)
}

// SkipGroups skips market disclosure for the listed cohorts.
func SkipGroups(groups ...model.ExperimentGroup) DisclosurePolicy {
	set := make(map[model.ExperimentGroup]struct{}, len(groups))
	for _, g := range groups {
		set[g] = struct{}{}
	}
	return PolicyFunc(func(state model.SkillsRankingSessionState) bool {
		_, ok := set[state.ExperimentGroup]
		return ok
	})
}
