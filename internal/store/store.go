// Package store handles SQLite persistence of skills ranking sessions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/proofwork/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a state update does not move the
	// session forward or carries effort results outside PROOF_OF_VALUE.
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// timeLayout keeps a fixed fraction width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for session data.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The API server writes from several goroutines; SQLite wants one writer.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			experiment_group TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			perceived_percentile REAL,
			retyped_percentile REAL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS phase_history (
			session_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			entered_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS proof_of_value (
			session_id INTEGER PRIMARY KEY,
			cancelled_after TEXT NOT NULL,
			succeeded_after TEXT NOT NULL,
			puzzles_solved INTEGER NOT NULL,
			correct_rotations INTEGER NOT NULL,
			clicks_count INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS effort_metrics (
			session_id INTEGER PRIMARY KEY,
			puzzles_solved INTEGER NOT NULL,
			correct_rotations INTEGER NOT NULL,
			clicks_count INTEGER NOT NULL,
			time_spent_ms INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateSession stores a new session that has been briefed and is waiting
// for its proof of value.
func (s *Store) CreateSession(ctx context.Context, group model.ExperimentGroup, score float64) (model.SkillsRankingSessionState, error) {
	if _, err := model.EffortTypeFor(group); err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	defer rollback(tx, &err)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (experiment_group, score, created_at) VALUES (?, ?, ?)`,
		string(group), score, now.Format(timeLayout))
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	for i, phase := range []model.Phase{model.PhaseBriefing, model.PhaseProofOfValue} {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO phase_history (session_id, seq, name, entered_at) VALUES (?, ?, ?, ?)`,
			id, i, string(phase), now.Format(timeLayout)); err != nil {
			return model.SkillsRankingSessionState{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	return s.GetSession(ctx, id)
}

// GetSession loads a session with its phase history and proof of value.
func (s *Store) GetSession(ctx context.Context, id int64) (model.SkillsRankingSessionState, error) {
	return getSession(ctx, s.db, id)
}

// UpdateSkillsRankingState advances a session to update.NextPhase, storing
// the proof of value and rank percentiles it carries.
func (s *Store) UpdateSkillsRankingState(ctx context.Context, update model.StateUpdate) (model.SkillsRankingSessionState, error) {
	next := update.NextPhase
	if next.Index() < 0 {
		return model.SkillsRankingSessionState{}, fmt.Errorf("%w: %w", ErrInvalidTransition, model.ErrUnknownPhase)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	defer rollback(tx, &err)

	current, err := getSession(ctx, tx, update.SessionID)
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	last := current.LastPhase()
	if next.Index() <= last.Index() {
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, last, next)
		return model.SkillsRankingSessionState{}, err
	}
	if carriesProofOfValue(update) {
		if last != model.PhaseProofOfValue {
			err = fmt.Errorf("%w: proof of value outside %s", ErrInvalidTransition, model.PhaseProofOfValue)
			return model.SkillsRankingSessionState{}, err
		}
		m := update.Metrics
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO proof_of_value (session_id, cancelled_after, succeeded_after, puzzles_solved, correct_rotations, clicks_count)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			update.SessionID, update.CancelledAfter, m.SucceededAfter,
			deref(m.PuzzlesSolved), deref(m.CorrectRotations), deref(m.ClicksCount)); err != nil {
			return model.SkillsRankingSessionState{}, err
		}
	}
	if update.PerceivedPercentile != nil {
		if _, err = tx.ExecContext(ctx, `UPDATE sessions SET perceived_percentile = ? WHERE id = ?`,
			*update.PerceivedPercentile, update.SessionID); err != nil {
			return model.SkillsRankingSessionState{}, err
		}
	}
	if update.RetypedPercentile != nil {
		if _, err = tx.ExecContext(ctx, `UPDATE sessions SET retyped_percentile = ? WHERE id = ?`,
			*update.RetypedPercentile, update.SessionID); err != nil {
			return model.SkillsRankingSessionState{}, err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO phase_history (session_id, seq, name, entered_at) VALUES (?, ?, ?, ?)`,
		update.SessionID, len(current.PhaseHistory), string(next), s.now().UTC().Format(timeLayout)); err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	return s.GetSession(ctx, update.SessionID)
}

// UpdateMetrics stores the latest effort metrics of a session.
func (s *Store) UpdateMetrics(ctx context.Context, sessionID int64, report model.EffortMetricsReport) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO effort_metrics (session_id, puzzles_solved, correct_rotations, clicks_count, time_spent_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, report.PuzzlesSolved, report.CorrectRotations, report.ClicksCount, report.TimeSpentMs,
		s.now().UTC().Format(timeLayout))
	return err
}

// ListSessions returns stored sessions matching filter, oldest first.
// filter.Last is applied by callers.
func (s *Store) ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.StoredSession, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Group != "" {
		clauses = append(clauses, "s.experiment_group = ?")
		args = append(args, string(filter.Group))
	}
	if filter.Since != nil {
		clauses = append(clauses, "s.created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	query := fmt.Sprintf(`SELECT s.id, s.experiment_group, s.created_at,
		COALESCE((SELECT ph.name FROM phase_history ph WHERE ph.session_id = s.id ORDER BY ph.seq DESC LIMIT 1), ''),
		COALESCE(p.cancelled_after, ''), COALESCE(p.succeeded_after, ''),
		COALESCE(p.puzzles_solved, 0), COALESCE(p.correct_rotations, 0), COALESCE(p.clicks_count, 0),
		m.session_id IS NOT NULL,
		COALESCE(m.puzzles_solved, 0), COALESCE(m.correct_rotations, 0), COALESCE(m.clicks_count, 0), COALESCE(m.time_spent_ms, 0)
		FROM sessions s
		LEFT JOIN proof_of_value p ON p.session_id = s.id
		LEFT JOIN effort_metrics m ON m.session_id = s.id
		WHERE %s
		ORDER BY s.created_at ASC, s.id ASC`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.StoredSession
	for rows.Next() {
		var (
			stored     model.StoredSession
			group      string
			createdAt  string
			lastPhase  string
			hasMetrics int
			report     model.EffortMetricsReport
			pov        = &stored.ProofOfValue
		)
		if err := rows.Scan(&stored.SessionID, &group, &createdAt, &lastPhase,
			&pov.CancelledAfter, &pov.SucceededAfter, &pov.PuzzlesSolved, &pov.CorrectRotations, &pov.ClicksCount,
			&hasMetrics, &report.PuzzlesSolved, &report.CorrectRotations, &report.ClicksCount, &report.TimeSpentMs); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		stored.ExperimentGroup = model.ExperimentGroup(group)
		stored.CreatedAt = parsed
		stored.LastPhase = model.Phase(lastPhase)
		if hasMetrics != 0 {
			stored.LastReport = &report
		}
		sessions = append(sessions, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getSession(ctx context.Context, q querier, id int64) (model.SkillsRankingSessionState, error) {
	var (
		state     model.SkillsRankingSessionState
		group     string
		perceived sql.NullFloat64
		retyped   sql.NullFloat64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, experiment_group, score, perceived_percentile, retyped_percentile FROM sessions WHERE id = ?`, id).
		Scan(&state.SessionID, &group, &state.Score, &perceived, &retyped)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SkillsRankingSessionState{}, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	state.ExperimentGroup = model.ExperimentGroup(group)
	if perceived.Valid {
		state.PerceivedPercentile = &perceived.Float64
	}
	if retyped.Valid {
		state.RetypedPercentile = &retyped.Float64
	}

	pov := &state.ProofOfValue
	err = q.QueryRowContext(ctx,
		`SELECT cancelled_after, succeeded_after, puzzles_solved, correct_rotations, clicks_count
		 FROM proof_of_value WHERE session_id = ?`, id).
		Scan(&pov.CancelledAfter, &pov.SucceededAfter, &pov.PuzzlesSolved, &pov.CorrectRotations, &pov.ClicksCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.SkillsRankingSessionState{}, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT name, entered_at FROM phase_history WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		var name, enteredAt string
		if err := rows.Scan(&name, &enteredAt); err != nil {
			return model.SkillsRankingSessionState{}, err
		}
		at, err := time.Parse(time.RFC3339Nano, enteredAt)
		if err != nil {
			return model.SkillsRankingSessionState{}, err
		}
		state.PhaseHistory = append(state.PhaseHistory, model.PhaseEntry{Name: model.Phase(name), Time: at})
	}
	if err := rows.Err(); err != nil {
		return model.SkillsRankingSessionState{}, err
	}
	return state, nil
}

func carriesProofOfValue(update model.StateUpdate) bool {
	m := update.Metrics
	return update.CancelledAfter != "" || m.SucceededAfter != "" ||
		m.PuzzlesSolved != nil || m.CorrectRotations != nil || m.ClicksCount != nil
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func rollback(tx *sql.Tx, err *error) {
	if *err == nil {
		return
	}
	if rerr := tx.Rollback(); rerr != nil {
		// Best-effort rollback.
		_ = rerr
	}
}
