package services

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

// PopulationFilter narrows a day's answers to the members of one group.
// An empty GroupID selects every non-system user.
type PopulationFilter struct {
	GroupID string
}

// AnswerStore reads and writes daily answers. Missing rows are reported with ErrNotFound.
type AnswerStore interface {
	GetAnswer(ctx context.Context, userID, indicatorID string, day time.Time) (*models.Answer, error)
	GetAnswerByID(ctx context.Context, id string) (*models.Answer, error)
	// ListDayAnswers returns answers of non-system users for one indicator and day.
	ListDayAnswers(ctx context.Context, indicatorID string, day time.Time, filter PopulationFilter) ([]*models.Answer, error)
	// LatestAnswer returns the user's most recent answer for the indicator, skips included.
	LatestAnswer(ctx context.Context, userID, indicatorID string) (*models.Answer, error)
	// ListSeries returns the user's non-skipped answers ordered by day.
	ListSeries(ctx context.Context, userID, indicatorID string) ([]*models.Answer, error)
	// ListUserDayAnswers returns the user's non-skipped answers for one day.
	ListUserDayAnswers(ctx context.Context, userID string, day time.Time) ([]*models.Answer, error)
	// UpsertAnswer writes the slot in a single atomic statement; last write wins.
	UpsertAnswer(ctx context.Context, a *models.Answer) (*models.Answer, error)
	// SaveAnswer writes the slot and reports whether it was newly created.
	SaveAnswer(ctx context.Context, a *models.Answer) (*models.Answer, bool, error)
	// AverageValue averages the user's non-skipped values; zero bounds are open.
	AverageValue(ctx context.Context, userID, indicatorID string, from, to time.Time) (null.Float64, error)
	// MaxValue is the user's highest non-skipped value for the indicator.
	MaxValue(ctx context.Context, userID, indicatorID string) (null.Float64, error)
	Participation(ctx context.Context, indicatorID string) ([]models.DayCount, error)
}

type IndicatorStore interface {
	GetIndicator(ctx context.Context, id string) (*models.Indicator, error)
	// ListRegularIndicators returns non-synthetic indicators ordered by position.
	ListRegularIndicators(ctx context.Context, campaignID string) ([]*models.Indicator, error)
	FindOverallIndicator(ctx context.Context, campaignID string) (*models.Indicator, error)
	CreateIndicator(ctx context.Context, ind *models.Indicator) error
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateComparedToAverage(ctx context.Context, userID string, value float64) error
	AddParticipationPoints(ctx context.Context, userID string, points int) error
}

type GroupStore interface {
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]*models.Group, error)
	CreateGroup(ctx context.Context, g *models.Group) error
	AddGroupMember(ctx context.Context, groupID, userID string) error
}

type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]*models.Campaign, error)
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	AddCampaignMember(ctx context.Context, campaignID, userID string) error
	CountCampaignMembers(ctx context.Context, campaignID string) (int, error)
	CountCampaignMembersAbove(ctx context.Context, campaignID string, value float64) (int, error)
}

// Store is everything the services need from persistence.
type Store interface {
	AnswerStore
	IndicatorStore
	UserStore
	GroupStore
	CampaignStore
}
