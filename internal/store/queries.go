package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/stage"
)

// LoadUserState reads every log for userID inside one read transaction so
// the logs and statistics agree with each other.
func (db *DB) LoadUserState(ctx context.Context, userID string) (*UserState, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	st := NewUserState(userID)

	if st.Interactions, err = queryInteractions(ctx, tx, userID, 0); err != nil {
		return nil, err
	}
	if st.Emotions, err = queryEmotions(ctx, tx, userID, time.Time{}); err != nil {
		return nil, err
	}
	if st.Stages, err = queryStages(ctx, tx, userID, 0); err != nil {
		return nil, err
	}
	if st.Densities, err = queryDensities(ctx, tx, userID); err != nil {
		return nil, err
	}
	if st.Alerts, err = queryAlerts(ctx, tx, userID); err != nil {
		return nil, err
	}

	stats, err := loadStatistics(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	stats.RecentStageCounts = CountStages(st.RecentStages())
	st.Statistics = *stats

	return st, tx.Commit()
}

// Statistics returns the derived summary with per-stage counts over the
// most recent RecentWindow stage samples.
func (db *DB) Statistics(ctx context.Context, userID string) (*Statistics, error) {
	w, err := db.StageWindow(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &w.Statistics, nil
}

// StageWindow reads the statistics row and the recent stage samples in one
// read transaction.
func (db *DB) StageWindow(ctx context.Context, userID string) (*StageWindow, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	stats, err := loadStatistics(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := queryStages(ctx, tx, userID, RecentWindow)
	if err != nil {
		return nil, err
	}
	stats.RecentStageCounts = CountStages(recent)
	return &StageWindow{Statistics: *stats, Recent: recent}, tx.Commit()
}

// EmotionHistory returns emotion samples recorded at or after since.
func (db *DB) EmotionHistory(ctx context.Context, userID string, since time.Time) ([]EmotionSample, error) {
	return queryEmotions(ctx, db, userID, since)
}

// StageTrajectory returns the last limit stage samples, oldest first.
func (db *DB) StageTrajectory(ctx context.Context, userID string, limit int) ([]StageSample, error) {
	return queryStages(ctx, db, userID, limit)
}

// RecentInteractions returns the last limit interactions, oldest first.
func (db *DB) RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	return queryInteractions(ctx, db, userID, limit)
}

// LatestEmotion returns the newest emotion sample, or nil.
func (db *DB) LatestEmotion(ctx context.Context, userID string) (*EmotionSample, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT batch_id, mood, bias, source, created_at
		FROM emotion_samples WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query latest emotion: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEmotion(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CountUsers returns the number of users with at least one record.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// tail wraps a newest-first LIMIT query so rows come back oldest first.
// A non-positive limit returns everything.
func tail(inner string, limit int) (string, []any) {
	if limit <= 0 {
		return inner + " ORDER BY created_at ASC, id ASC", nil
	}
	return "SELECT * FROM (" + inner + " ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at ASC, id ASC",
		[]any{limit}
}

type scanner interface {
	Scan(dest ...any) error
}

func queryInteractions(ctx context.Context, q queryer, userID string, limit int) ([]Interaction, error) {
	query, extra := tail(`
		SELECT id, batch_id, user_message, bot_response, stage, mood, created_at
		FROM interactions WHERE user_id = ?`, limit)
	rows, err := q.QueryContext(ctx, query, append([]any{userID}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	out := []Interaction{}
	for rows.Next() {
		var (
			i   Interaction
			id  int64
			st  string
			cms int64
		)
		if err := rows.Scan(&id, &i.BatchID, &i.UserMessage, &i.BotResponse, &st, &i.Mood, &cms); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		i.Stage = stage.Stage(st)
		i.Timestamp = fromMS(cms)
		out = append(out, i)
	}
	return out, rows.Err()
}

func scanEmotion(s scanner) (EmotionSample, error) {
	var (
		e   EmotionSample
		cms int64
	)
	if err := s.Scan(&e.BatchID, &e.Mood, &e.Bias, &e.Source, &cms); err != nil {
		return e, fmt.Errorf("scan emotion sample: %w", err)
	}
	e.Timestamp = fromMS(cms)
	return e, nil
}

func queryEmotions(ctx context.Context, q queryer, userID string, since time.Time) ([]EmotionSample, error) {
	var from int64
	if !since.IsZero() {
		from = ms(since)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT batch_id, mood, bias, source, created_at
		FROM emotion_samples WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`, userID, from)
	if err != nil {
		return nil, fmt.Errorf("query emotion samples: %w", err)
	}
	defer rows.Close()

	out := []EmotionSample{}
	for rows.Next() {
		e, err := scanEmotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func queryStages(ctx context.Context, q queryer, userID string, limit int) ([]StageSample, error) {
	query, extra := tail(`
		SELECT id, batch_id, stage, confidence, created_at
		FROM stage_samples WHERE user_id = ?`, limit)
	rows, err := q.QueryContext(ctx, query, append([]any{userID}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query stage samples: %w", err)
	}
	defer rows.Close()

	out := []StageSample{}
	for rows.Next() {
		var (
			s   StageSample
			id  int64
			st  string
			cms int64
		)
		if err := rows.Scan(&id, &s.BatchID, &st, &s.Confidence, &cms); err != nil {
			return nil, fmt.Errorf("scan stage sample: %w", err)
		}
		s.Stage = stage.Stage(st)
		s.Timestamp = fromMS(cms)
		out = append(out, s)
	}
	return out, rows.Err()
}

func queryDensities(ctx context.Context, q queryer, userID string) ([]DensitySample, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT batch_id, denial, anger, bargaining, depression, acceptance, created_at
		FROM keyword_densities WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query keyword densities: %w", err)
	}
	defer rows.Close()

	out := []DensitySample{}
	for rows.Next() {
		var (
			d   DensitySample
			cms int64
		)
		if err := rows.Scan(&d.BatchID,
			&d.Densities[stage.Denial.Index()], &d.Densities[stage.Anger.Index()],
			&d.Densities[stage.Bargaining.Index()], &d.Densities[stage.Depression.Index()],
			&d.Densities[stage.Acceptance.Index()], &cms,
		); err != nil {
			return nil, fmt.Errorf("scan keyword density: %w", err)
		}
		d.Timestamp = fromMS(cms)
		out = append(out, d)
	}
	return out, rows.Err()
}

func queryAlerts(ctx context.Context, q queryer, userID string) ([]Alert, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT batch_id, kind, mood, created_at
		FROM alerts WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := []Alert{}
	for rows.Next() {
		var (
			a    Alert
			kind string
			cms  int64
		)
		if err := rows.Scan(&a.BatchID, &kind, &a.Mood, &cms); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = emotion.Alert(kind)
		a.Timestamp = fromMS(cms)
		out = append(out, a)
	}
	return out, rows.Err()
}
