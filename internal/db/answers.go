package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
	"github.com/soaringjerry/goodenergy/internal/services"
)

const answerColumns = "id, user_id, indicator_id, action_date, answer_num, is_skip, created_at"

const upsertAnswerSQL = `INSERT INTO answers (` + answerColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, indicator_id, action_date)
DO UPDATE SET answer_num = excluded.answer_num, is_skip = excluded.is_skip`

const answerBySlotSQL = `SELECT ` + answerColumns + ` FROM answers WHERE user_id = ? AND indicator_id = ? AND action_date = ?`

type answerRow struct {
	ID          string       `db:"id"`
	UserID      string       `db:"user_id"`
	IndicatorID string       `db:"indicator_id"`
	ActionDate  string       `db:"action_date"`
	AnswerNum   null.Float64 `db:"answer_num"`
	IsSkip      bool         `db:"is_skip"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r answerRow) model() (*models.Answer, error) {
	day, err := models.ParseDay(r.ActionDate)
	if err != nil {
		return nil, errors.Wrapf(err, "answer %s has bad date %q", r.ID, r.ActionDate)
	}
	return &models.Answer{
		ID:          r.ID,
		UserID:      r.UserID,
		IndicatorID: r.IndicatorID,
		Day:         day,
		Value:       r.AnswerNum,
		IsSkip:      r.IsSkip,
		CreatedAt:   r.CreatedAt.UTC(),
	}, nil
}

func answerModels(rows []answerRow) ([]*models.Answer, error) {
	out := make([]*models.Answer, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func answerArgs(a *models.Answer) []any {
	value := a.Value
	if a.IsSkip {
		value = null.Float64{}
	}
	return []any{a.ID, a.UserID, a.IndicatorID, models.FormatDay(a.Day), value, a.IsSkip, a.CreatedAt.UTC()}
}

func (s *SQLStore) GetAnswer(ctx context.Context, userID, indicatorID string, day time.Time) (*models.Answer, error) {
	var row answerRow
	if err := s.db.GetContext(ctx, &row, s.rebind(answerBySlotSQL), userID, indicatorID, models.FormatDay(day)); err != nil {
		return nil, notFound(err)
	}
	return row.model()
}

func (s *SQLStore) GetAnswerByID(ctx context.Context, id string) (*models.Answer, error) {
	var row answerRow
	q := s.rebind(`SELECT ` + answerColumns + ` FROM answers WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, notFound(err)
	}
	return row.model()
}

func (s *SQLStore) LatestAnswer(ctx context.Context, userID, indicatorID string) (*models.Answer, error) {
	var row answerRow
	q := s.rebind(`SELECT ` + answerColumns + ` FROM answers
WHERE user_id = ? AND indicator_id = ? ORDER BY action_date DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, userID, indicatorID); err != nil {
		return nil, notFound(err)
	}
	return row.model()
}

func (s *SQLStore) ListDayAnswers(ctx context.Context, indicatorID string, day time.Time, filter services.PopulationFilter) ([]*models.Answer, error) {
	q := `SELECT a.id, a.user_id, a.indicator_id, a.action_date, a.answer_num, a.is_skip, a.created_at
FROM answers a JOIN users u ON u.id = a.user_id
WHERE a.indicator_id = ? AND a.action_date = ? AND u.is_system_user = ?`
	args := []any{indicatorID, models.FormatDay(day), false}
	if filter.GroupID != "" {
		q += ` AND a.user_id IN (SELECT user_id FROM user_group_members WHERE group_id = ?)`
		args = append(args, filter.GroupID)
	}
	var rows []answerRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "select day answers")
	}
	return answerModels(rows)
}

func (s *SQLStore) ListSeries(ctx context.Context, userID, indicatorID string) ([]*models.Answer, error) {
	var rows []answerRow
	q := s.rebind(`SELECT ` + answerColumns + ` FROM answers
WHERE user_id = ? AND indicator_id = ? AND is_skip = ? ORDER BY action_date`)
	if err := s.db.SelectContext(ctx, &rows, q, userID, indicatorID, false); err != nil {
		return nil, errors.Wrap(err, "select series")
	}
	return answerModels(rows)
}

func (s *SQLStore) ListUserDayAnswers(ctx context.Context, userID string, day time.Time) ([]*models.Answer, error) {
	var rows []answerRow
	q := s.rebind(`SELECT ` + answerColumns + ` FROM answers
WHERE user_id = ? AND action_date = ? AND is_skip = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, userID, models.FormatDay(day), false); err != nil {
		return nil, errors.Wrap(err, "select user day answers")
	}
	return answerModels(rows)
}

func (s *SQLStore) UpsertAnswer(ctx context.Context, a *models.Answer) (*models.Answer, error) {
	var row answerRow
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		return upsertAnswer(ctx, tx, a, &row)
	})
	if err != nil {
		return nil, err
	}
	return row.model()
}

func (s *SQLStore) SaveAnswer(ctx context.Context, a *models.Answer) (*models.Answer, bool, error) {
	var (
		row     answerRow
		created bool
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var existing string
		q := tx.Rebind(`SELECT id FROM answers WHERE user_id = ? AND indicator_id = ? AND action_date = ?`)
		err := tx.GetContext(ctx, &existing, q, a.UserID, a.IndicatorID, models.FormatDay(a.Day))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
		case err != nil:
			return errors.Wrap(err, "find answer")
		}
		return upsertAnswer(ctx, tx, a, &row)
	})
	if err != nil {
		return nil, false, err
	}
	saved, err := row.model()
	return saved, created, err
}

// upsertAnswer writes the slot with one INSERT .. ON CONFLICT statement and
// reads back the stored row, which keeps the original id on conflict.
func upsertAnswer(ctx context.Context, tx *sqlx.Tx, a *models.Answer, row *answerRow) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(upsertAnswerSQL), answerArgs(a)...); err != nil {
		return errors.Wrap(err, "upsert answer")
	}
	err := tx.GetContext(ctx, row, tx.Rebind(answerBySlotSQL), a.UserID, a.IndicatorID, models.FormatDay(a.Day))
	return errors.Wrap(err, "read answer")
}

func (s *SQLStore) AverageValue(ctx context.Context, userID, indicatorID string, from, to time.Time) (null.Float64, error) {
	q := `SELECT AVG(answer_num) FROM answers WHERE user_id = ? AND indicator_id = ? AND is_skip = ?`
	args := []any{userID, indicatorID, false}
	if !from.IsZero() {
		q += ` AND action_date >= ?`
		args = append(args, models.FormatDay(from))
	}
	if !to.IsZero() {
		q += ` AND action_date <= ?`
		args = append(args, models.FormatDay(to))
	}
	var avg null.Float64
	if err := s.db.GetContext(ctx, &avg, s.rebind(q), args...); err != nil {
		return null.Float64{}, errors.Wrap(err, "average value")
	}
	return avg, nil
}

func (s *SQLStore) MaxValue(ctx context.Context, userID, indicatorID string) (null.Float64, error) {
	var top null.Float64
	q := s.rebind(`SELECT MAX(answer_num) FROM answers WHERE user_id = ? AND indicator_id = ? AND is_skip = ?`)
	if err := s.db.GetContext(ctx, &top, q, userID, indicatorID, false); err != nil {
		return null.Float64{}, errors.Wrap(err, "max value")
	}
	return top, nil
}

func (s *SQLStore) Participation(ctx context.Context, indicatorID string) ([]models.DayCount, error) {
	var rows []struct {
		ActionDate string `db:"action_date"`
		N          int    `db:"n"`
	}
	q := s.rebind(`SELECT a.action_date, COUNT(*) AS n FROM answers a JOIN users u ON u.id = a.user_id
WHERE a.indicator_id = ? AND u.is_system_user = ? GROUP BY a.action_date ORDER BY a.action_date`)
	if err := s.db.SelectContext(ctx, &rows, q, indicatorID, false); err != nil {
		return nil, errors.Wrap(err, "participation")
	}
	out := make([]models.DayCount, 0, len(rows))
	for _, r := range rows {
		day, err := models.ParseDay(r.ActionDate)
		if err != nil {
			return nil, errors.Wrapf(err, "bad date %q", r.ActionDate)
		}
		out = append(out, models.DayCount{Day: day, Count: r.N})
	}
	return out, nil
}
