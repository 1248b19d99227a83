package stats

import (
	"context"

	"github.com/verte-zerg/proofwork/internal/model"
)

// SessionLister lists stored sessions.
type SessionLister interface {
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.StoredSession, error)
}

// Report contains precomputed data for stats rendering.
type Report struct {
	Sessions []model.StoredSession
	Summary  Summary
}

// BuildReport loads sessions matching filter, keeping the last filter.Last.
func BuildReport(ctx context.Context, st SessionLister, filter model.SessionFilter) (Report, error) {
	sessions, err := st.ListSessions(ctx, filter)
	if err != nil {
		return Report{}, err
	}
	if filter.Last > 0 && len(sessions) > filter.Last {
		sessions = sessions[len(sessions)-filter.Last:]
	}
	return Report{Sessions: sessions, Summary: Summarize(sessions)}, nil
}
