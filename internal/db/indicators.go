package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

const indicatorColumns = "id, campaign_id, position, name, question, kind, range_start, range_end, target, is_percentage, is_synthetic, created_at"

type indicatorRow struct {
	ID           string       `db:"id"`
	CampaignID   string       `db:"campaign_id"`
	Position     null.Int     `db:"position"`
	Name         string       `db:"name"`
	Question     string       `db:"question"`
	Kind         string       `db:"kind"`
	RangeStart   null.Float64 `db:"range_start"`
	RangeEnd     null.Float64 `db:"range_end"`
	Target       null.Float64 `db:"target"`
	IsPercentage bool         `db:"is_percentage"`
	IsSynthetic  bool         `db:"is_synthetic"`
	CreatedAt    time.Time    `db:"created_at"`
}

type optionRow struct {
	IndicatorID string `db:"indicator_id"`
	Position    int    `db:"position"`
	Label       string `db:"label"`
}

func (r indicatorRow) model() *models.Indicator {
	return &models.Indicator{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Position:   r.Position,
		Name:       r.Name,
		Question:   r.Question,
		Scale: models.Scale{
			Kind:         models.ScaleKind(r.Kind),
			RangeStart:   r.RangeStart,
			RangeEnd:     r.RangeEnd,
			Target:       r.Target,
			IsPercentage: r.IsPercentage,
		},
		IsSynthetic: r.IsSynthetic,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// withLevels loads Likert options for the given rows, ordered by position.
func (s *SQLStore) withLevels(ctx context.Context, rows []indicatorRow) ([]*models.Indicator, error) {
	out := make([]*models.Indicator, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(rows))
	byID := make(map[string]*models.Indicator, len(rows))
	for _, r := range rows {
		ind := r.model()
		out = append(out, ind)
		byID[ind.ID] = ind
		ids = append(ids, ind.ID)
	}
	q, args, err := sqlx.In(`SELECT indicator_id, position, label FROM indicator_options
WHERE indicator_id IN (?) ORDER BY indicator_id, position`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build options query")
	}
	var opts []optionRow
	if err := s.db.SelectContext(ctx, &opts, s.rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "select options")
	}
	for _, o := range opts {
		if ind, ok := byID[o.IndicatorID]; ok {
			ind.Scale.Levels = append(ind.Scale.Levels, models.Level{Position: o.Position, Label: o.Label})
		}
	}
	return out, nil
}

func (s *SQLStore) GetIndicator(ctx context.Context, id string) (*models.Indicator, error) {
	var row indicatorRow
	q := s.rebind(`SELECT ` + indicatorColumns + ` FROM indicators WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, notFound(err)
	}
	list, err := s.withLevels(ctx, []indicatorRow{row})
	if err != nil {
		return nil, err
	}
	return list[0], nil
}

func (s *SQLStore) ListRegularIndicators(ctx context.Context, campaignID string) ([]*models.Indicator, error) {
	var rows []indicatorRow
	q := s.rebind(`SELECT ` + indicatorColumns + ` FROM indicators
WHERE campaign_id = ? AND is_synthetic = ? ORDER BY position`)
	if err := s.db.SelectContext(ctx, &rows, q, campaignID, false); err != nil {
		return nil, errors.Wrap(err, "select indicators")
	}
	return s.withLevels(ctx, rows)
}

func (s *SQLStore) FindOverallIndicator(ctx context.Context, campaignID string) (*models.Indicator, error) {
	var row indicatorRow
	q := s.rebind(`SELECT ` + indicatorColumns + ` FROM indicators
WHERE campaign_id = ? AND is_synthetic = ? AND name = ? ORDER BY created_at LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, campaignID, true, models.OverallIndicatorName); err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLStore) CreateIndicator(ctx context.Context, ind *models.Indicator) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`INSERT INTO indicators (` + indicatorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		sc := ind.Scale
		if _, err := tx.ExecContext(ctx, q,
			ind.ID, ind.CampaignID, ind.Position, ind.Name, ind.Question, string(sc.Kind),
			sc.RangeStart, sc.RangeEnd, sc.Target, sc.IsPercentage, ind.IsSynthetic, ind.CreatedAt.UTC(),
		); err != nil {
			return errors.Wrap(err, "insert indicator")
		}
		oq := tx.Rebind(`INSERT INTO indicator_options (indicator_id, position, label) VALUES (?, ?, ?)`)
		for _, l := range sc.Levels {
			if _, err := tx.ExecContext(ctx, oq, ind.ID, l.Position, l.Label); err != nil {
				return errors.Wrap(err, "insert option")
			}
		}
		return nil
	})
}
