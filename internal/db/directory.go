package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

const userColumns = "id, organization_id, username, is_system_user, timezone, compared_to_average, participation_points, created_at"

type userRow struct {
	ID                  string      `db:"id"`
	OrganizationID      null.String `db:"organization_id"`
	Username            string      `db:"username"`
	IsSystemUser        bool        `db:"is_system_user"`
	Timezone            string      `db:"timezone"`
	ComparedToAverage   float64     `db:"compared_to_average"`
	ParticipationPoints int         `db:"participation_points"`
	CreatedAt           time.Time   `db:"created_at"`
}

func (r userRow) model() *models.User {
	return &models.User{
		ID:                  r.ID,
		OrganizationID:      r.OrganizationID.String,
		Username:            r.Username,
		IsSystemUser:        r.IsSystemUser,
		Timezone:            r.Timezone,
		ComparedToAverage:   r.ComparedToAverage,
		ParticipationPoints: r.ParticipationPoints,
		CreatedAt:           r.CreatedAt.UTC(),
	}
}

type groupRow struct {
	ID             string      `db:"id"`
	OrganizationID null.String `db:"organization_id"`
	Name           string      `db:"name"`
	AvgUserID      null.String `db:"avg_user_id"`
}

func (r groupRow) model() *models.Group {
	return &models.Group{ID: r.ID, OrganizationID: r.OrganizationID.String, Name: r.Name, AvgUserID: r.AvgUserID.String}
}

type campaignRow struct {
	ID             string      `db:"id"`
	OrganizationID null.String `db:"organization_id"`
	Name           string      `db:"name"`
	Slug           string      `db:"slug"`
	StartDate      string      `db:"start_date"`
	EndDate        string      `db:"end_date"`
	IsFixedDates   bool        `db:"is_fixed_dates"`
}

func (r campaignRow) model() (*models.Campaign, error) {
	start, err := models.ParseDay(r.StartDate)
	if err != nil {
		return nil, errors.Wrapf(err, "campaign %s start date", r.ID)
	}
	end, err := models.ParseDay(r.EndDate)
	if err != nil {
		return nil, errors.Wrapf(err, "campaign %s end date", r.ID)
	}
	return &models.Campaign{
		ID:             r.ID,
		OrganizationID: r.OrganizationID.String,
		Name:           r.Name,
		Slug:           r.Slug,
		StartDate:      start,
		EndDate:        end,
		IsFixedDates:   r.IsFixedDates,
	}, nil
}

func optString(s string) null.String {
	return null.NewString(s, s != "")
}

func (s *SQLStore) CreateOrganization(ctx context.Context, o *models.Organization) error {
	q := s.rebind(`INSERT INTO organizations (id, name, slug) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, o.ID, o.Name, o.Slug)
	return errors.Wrap(err, "insert organization")
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username); err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	tz := u.Timezone
	if tz == "" {
		tz = "UTC"
	}
	q := s.rebind(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, u.ID, optString(u.OrganizationID), u.Username, u.IsSystemUser, tz,
		u.ComparedToAverage, u.ParticipationPoints, u.CreatedAt.UTC())
	return errors.Wrap(err, "insert user")
}

func (s *SQLStore) UpdateComparedToAverage(ctx context.Context, userID string, value float64) error {
	q := s.rebind(`UPDATE users SET compared_to_average = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, value, userID)
	return errors.Wrap(err, "update compared to average")
}

func (s *SQLStore) AddParticipationPoints(ctx context.Context, userID string, points int) error {
	q := s.rebind(`UPDATE users SET participation_points = participation_points + ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, points, userID)
	return errors.Wrap(err, "add participation points")
}

func (s *SQLStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var row groupRow
	q := s.rebind(`SELECT id, organization_id, name, avg_user_id FROM user_groups WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var rows []groupRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, organization_id, name, avg_user_id FROM user_groups ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "select groups")
	}
	return groupModels(rows), nil
}

func (s *SQLStore) ListUserGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	var rows []groupRow
	q := s.rebind(`SELECT g.id, g.organization_id, g.name, g.avg_user_id
FROM user_groups g JOIN user_group_members m ON m.group_id = g.id
WHERE m.user_id = ? ORDER BY g.name`)
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "select user groups")
	}
	return groupModels(rows), nil
}

func groupModels(rows []groupRow) []*models.Group {
	out := make([]*models.Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}

func (s *SQLStore) CreateGroup(ctx context.Context, g *models.Group) error {
	q := s.rebind(`INSERT INTO user_groups (id, organization_id, name, avg_user_id) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, g.ID, optString(g.OrganizationID), g.Name, optString(g.AvgUserID))
	return errors.Wrap(err, "insert group")
}

func (s *SQLStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	q := s.rebind(`INSERT INTO user_group_members (group_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	_, err := s.db.ExecContext(ctx, q, groupID, userID)
	return errors.Wrap(err, "insert group member")
}

const campaignColumns = "id, organization_id, name, slug, start_date, end_date, is_fixed_dates"

func (s *SQLStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var row campaignRow
	if err := s.db.GetContext(ctx, &row, s.rebind(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return row.model()
}

func (s *SQLStore) ListCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	var rows []campaignRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+campaignColumns+` FROM campaigns ORDER BY start_date`); err != nil {
		return nil, errors.Wrap(err, "select campaigns")
	}
	out := make([]*models.Campaign, 0, len(rows))
	for _, r := range rows {
		c, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	q := s.rebind(`INSERT INTO campaigns (` + campaignColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, c.ID, optString(c.OrganizationID), c.Name, c.Slug,
		models.FormatDay(c.StartDate), models.FormatDay(c.EndDate), c.IsFixedDates)
	return errors.Wrap(err, "insert campaign")
}

func (s *SQLStore) AddCampaignMember(ctx context.Context, campaignID, userID string) error {
	q := s.rebind(`INSERT INTO campaign_members (campaign_id, user_id, joined_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`)
	_, err := s.db.ExecContext(ctx, q, campaignID, userID, time.Now().UTC())
	return errors.Wrap(err, "insert campaign member")
}

func (s *SQLStore) CountCampaignMembers(ctx context.Context, campaignID string) (int, error) {
	var n int
	q := s.rebind(`SELECT COUNT(*) FROM campaign_members m JOIN users u ON u.id = m.user_id
WHERE m.campaign_id = ? AND u.is_system_user = ?`)
	if err := s.db.GetContext(ctx, &n, q, campaignID, false); err != nil {
		return 0, errors.Wrap(err, "count members")
	}
	return n, nil
}

func (s *SQLStore) CountCampaignMembersAbove(ctx context.Context, campaignID string, value float64) (int, error) {
	var n int
	q := s.rebind(`SELECT COUNT(*) FROM campaign_members m JOIN users u ON u.id = m.user_id
WHERE m.campaign_id = ? AND u.is_system_user = ? AND u.compared_to_average > ?`)
	if err := s.db.GetContext(ctx, &n, q, campaignID, false, value); err != nil {
		return 0, errors.Wrap(err, "count members above")
	}
	return n, nil
}

// IsEmpty reports whether no campaign has been created yet.
func (s *SQLStore) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM campaigns`); err != nil {
		return false, errors.Wrap(err, "count campaigns")
	}
	return n == 0, nil
}
