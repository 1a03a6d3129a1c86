package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/solace/internal/stage"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Apply writes every record of the batch and the updated statistics in a
// single transaction. The first statement is a write, so the transaction
// holds the write lock from the start and its read snapshot cannot go stale.
func (db *DB) Apply(ctx context.Context, userID string, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, created_at) VALUES (?, ?)`,
		userID, ms(time.Now()),
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	if i := b.Interaction; i != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (user_id, batch_id, user_message, bot_response, stage, mood, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, userID, b.ID, i.UserMessage, i.BotResponse, string(i.Stage), i.Mood, ms(i.Timestamp)); err != nil {
			return fmt.Errorf("insert interaction: %w", err)
		}
	}

	if e := b.Emotion; e != nil {
		source := e.Source
		if source == "" {
			source = SourceMessage
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO emotion_samples (user_id, batch_id, mood, bias, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, userID, b.ID, e.Mood, e.Bias, source, ms(e.Timestamp)); err != nil {
			return fmt.Errorf("insert emotion sample: %w", err)
		}
	}

	if s := b.Stage; s != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stage_samples (user_id, batch_id, stage, confidence, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, b.ID, string(s.Stage), s.Confidence, ms(s.Timestamp)); err != nil {
			return fmt.Errorf("insert stage sample: %w", err)
		}
	}

	if d := b.Density; d != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO keyword_densities (user_id, batch_id, denial, anger, bargaining, depression, acceptance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, b.ID,
			d.Densities.Get(stage.Denial), d.Densities.Get(stage.Anger), d.Densities.Get(stage.Bargaining),
			d.Densities.Get(stage.Depression), d.Densities.Get(stage.Acceptance), ms(d.Timestamp),
		); err != nil {
			return fmt.Errorf("insert keyword density: %w", err)
		}
	}

	if a := b.Alert; a != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (user_id, batch_id, kind, mood, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, b.ID, string(a.Kind), a.Mood, ms(a.Timestamp)); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
	}

	stats, err := loadStatistics(ctx, tx, userID)
	if err != nil {
		return err
	}
	stats.Apply(b)
	if err := saveStatistics(ctx, tx, userID, stats); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func loadStatistics(ctx context.Context, q queryer, userID string) (*Statistics, error) {
	var (
		s           Statistics
		current     string
		transitions string
		first, last int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT current_stage, transitions, total_interactions, total_stages, total_emotions,
		       warning_alerts, crisis_alerts, last_mood, first_seen, last_seen
		FROM user_statistics WHERE user_id = ?
	`, userID).Scan(&current, &transitions, &s.TotalInteractions, &s.TotalStages, &s.TotalEmotions,
		&s.WarningAlerts, &s.CrisisAlerts, &s.LastMood, &first, &last)
	if err == sql.ErrNoRows {
		return &Statistics{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}

	s.CurrentStage = stage.Stage(current)
	if err := json.Unmarshal([]byte(transitions), &s.Transitions); err != nil {
		return nil, fmt.Errorf("decode transitions: %w", err)
	}
	if first > 0 {
		s.FirstSeen = fromMS(first)
	}
	if last > 0 {
		s.LastSeen = fromMS(last)
	}
	return &s, nil
}

func saveStatistics(ctx context.Context, q queryer, userID string, s *Statistics) error {
	transitions, err := json.Marshal(s.Transitions)
	if err != nil {
		return fmt.Errorf("encode transitions: %w", err)
	}
	var first, last int64
	if !s.FirstSeen.IsZero() {
		first = ms(s.FirstSeen)
	}
	if !s.LastSeen.IsZero() {
		last = ms(s.LastSeen)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO user_statistics (user_id, current_stage, transitions, total_interactions, total_stages,
		                             total_emotions, warning_alerts, crisis_alerts, last_mood, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_stage = excluded.current_stage,
			transitions = excluded.transitions,
			total_interactions = excluded.total_interactions,
			total_stages = excluded.total_stages,
			total_emotions = excluded.total_emotions,
			warning_alerts = excluded.warning_alerts,
			crisis_alerts = excluded.crisis_alerts,
			last_mood = excluded.last_mood,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen
	`, userID, string(s.CurrentStage), string(transitions), s.TotalInteractions, s.TotalStages,
		s.TotalEmotions, s.WarningAlerts, s.CrisisAlerts, s.LastMood, first, last)
	if err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	return nil
}
