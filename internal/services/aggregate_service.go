package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

// DefaultTolerance is the percentage band around the average that counts as "on average".
const DefaultTolerance = 5.0

// Average is the result of an aggregation. Valid is false when there was no data.
type Average struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Scope selects whose answers are read: one user, one group's average user,
// or, when both IDs are empty, the platform average user.
type Scope struct {
	UserID  string
	GroupID string
}

// IsPlatform reports whether the scope is the platform average.
func (s Scope) IsPlatform() bool { return s.UserID == "" && s.GroupID == "" }

func (s Scope) String() string {
	switch {
	case s.UserID != "":
		return "user:" + s.UserID
	case s.GroupID != "":
		return "group:" + s.GroupID
	}
	return "average"
}

// AverageComparison holds a user's distance to the platform average.
type AverageComparison struct {
	Toleranced float64 `json:"toleranced"`
	Diff       float64 `json:"diff"`
}

// AggregateService computes group, platform and overall daily averages and
// stores them as answers of the average users.
type AggregateService struct {
	store       Store
	catalog     *Catalog
	log         logrus.FieldLogger
	tolerance   float64
	now         func() time.Time
	idGenerator func() string
}

func NewAggregateService(store Store, catalog *Catalog, log logrus.FieldLogger) *AggregateService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AggregateService{
		store:       store,
		catalog:     catalog,
		log:         log.WithField("component", "aggregate"),
		tolerance:   DefaultTolerance,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: newID,
	}
}

// SetTolerance overrides DefaultTolerance for compared-to-average updates.
func (s *AggregateService) SetTolerance(t float64) { s.tolerance = t }

// scopeAverageUser resolves the average user that stores results for a group,
// or the platform average user when groupID is empty.
func scopeAverageUser(ctx context.Context, groups GroupStore, catalog *Catalog, groupID string) (string, error) {
	if groupID == "" {
		u, err := catalog.AverageUser(ctx)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	g, err := groups.GetGroup(ctx, groupID)
	if err != nil {
		if IsNotFound(err) {
			return "", NewNotFoundError("group not found")
		}
		return "", err
	}
	if g.AvgUserID == "" {
		return "", NewConfigurationError(fmt.Sprintf("group %s has no average user", g.ID))
	}
	return g.AvgUserID, nil
}

// GroupAverage averages the raw values of one indicator on one day over the
// non-system users of the group (every non-system user when groupID is empty)
// and upserts the mean as the scope average user's answer. Nothing is written
// when no user has a value.
func (s *AggregateService) GroupAverage(ctx context.Context, indicatorID string, day time.Time, groupID string) (Average, error) {
	day = models.DayOf(day)
	avgUserID, err := scopeAverageUser(ctx, s.store, s.catalog, groupID)
	if err != nil {
		return Average{}, err
	}
	answers, err := s.store.ListDayAnswers(ctx, indicatorID, day, PopulationFilter{GroupID: groupID})
	if err != nil {
		return Average{}, errors.Wrap(err, "list day answers")
	}
	var sum float64
	var n int
	for _, a := range answers {
		if a.IsSkip || !a.Value.Valid {
			continue
		}
		sum += a.Value.Float64
		n++
	}
	if n == 0 {
		return Average{}, nil
	}
	mean := sum / float64(n)
	if err := s.write(ctx, avgUserID, indicatorID, day, mean); err != nil {
		return Average{}, err
	}
	return Average{Value: mean, Valid: true}, nil
}

// OverallAverage averages the percentages of every averageable indicator the
// user answered that day and upserts the result into the campaign's OVERALL
// indicator. Nothing is written when the user answered none of them.
func (s *AggregateService) OverallAverage(ctx context.Context, campaignID, userID string, day time.Time) (Average, error) {
	day = models.DayOf(day)
	overall, err := s.catalog.OverallIndicator(ctx, campaignID)
	if err != nil {
		return Average{}, err
	}
	indicators, err := s.catalog.RegularIndicators(ctx, campaignID)
	if err != nil {
		return Average{}, err
	}
	byID := make(map[string]*models.Indicator, len(indicators))
	for _, ind := range indicators {
		byID[ind.ID] = ind
	}
	answers, err := s.store.ListUserDayAnswers(ctx, userID, day)
	if err != nil {
		return Average{}, errors.Wrap(err, "list user day answers")
	}
	var total float64
	var count int
	for _, a := range answers {
		ind, ok := byID[a.IndicatorID]
		if !ok || !CanAverage(ind) || a.IsSkip || !a.Value.Valid {
			continue
		}
		pct, err := AsPercentage(ind, a.Value)
		if err != nil {
			return Average{}, err
		}
		total += pct
		count++
	}
	if count == 0 {
		return Average{}, nil
	}
	mean := total / float64(count)
	if err := s.write(ctx, userID, overall.ID, day, mean); err != nil {
		return Average{}, err
	}
	return Average{Value: mean, Valid: true}, nil
}

func (s *AggregateService) write(ctx context.Context, userID, indicatorID string, day time.Time, value float64) error {
	_, err := s.store.UpsertAnswer(ctx, &models.Answer{
		ID:          s.idGenerator(),
		UserID:      userID,
		IndicatorID: indicatorID,
		Day:         day,
		Value:       null.Float64From(value),
		CreatedAt:   s.now(),
	})
	return errors.Wrap(err, "upsert average")
}

// UpdateAverages refreshes every average the answer contributes to: the
// platform average for the indicator, each of the user's groups with their
// overall score, the user's overall score, the platform overall score and the
// user's distance to average.
func (s *AggregateService) UpdateAverages(ctx context.Context, answerID string) error {
	a, err := s.store.GetAnswerByID(ctx, answerID)
	if err != nil {
		return err
	}
	if a.IsSkip {
		return nil
	}
	ind, err := s.catalog.Indicator(ctx, a.IndicatorID)
	if err != nil {
		return err
	}
	if ind.IsSynthetic {
		return nil
	}
	day := a.Day
	campaignID := ind.CampaignID

	if _, err := s.GroupAverage(ctx, ind.ID, day, ""); err != nil {
		return err
	}
	groups, err := s.store.ListUserGroups(ctx, a.UserID)
	if err != nil {
		return errors.Wrap(err, "list user groups")
	}
	for _, g := range groups {
		if _, err := s.GroupAverage(ctx, ind.ID, day, g.ID); err != nil {
			return err
		}
		if _, err := s.OverallAverage(ctx, campaignID, g.AvgUserID, day); err != nil {
			return err
		}
	}
	if _, err := s.OverallAverage(ctx, campaignID, a.UserID, day); err != nil {
		return err
	}
	avg, err := s.catalog.AverageUser(ctx)
	if err != nil {
		return err
	}
	if _, err := s.OverallAverage(ctx, campaignID, avg.ID, day); err != nil {
		return err
	}
	return s.UpdateComparedToAverage(ctx, campaignID, a.UserID, day)
}

// RecomputeDay recomputes one indicator's average for a day in a scope (the
// platform when groupID is empty) together with the scope's overall score.
func (s *AggregateService) RecomputeDay(ctx context.Context, indicatorID string, day time.Time, groupID string) (Average, error) {
	ind, err := s.catalog.Indicator(ctx, indicatorID)
	if err != nil {
		return Average{}, err
	}
	if ind.IsSynthetic {
		return Average{}, NewInvalidError("synthetic indicators are derived, not recomputed")
	}
	res, err := s.GroupAverage(ctx, indicatorID, day, groupID)
	if err != nil {
		return Average{}, err
	}
	avgUserID, err := scopeAverageUser(ctx, s.store, s.catalog, groupID)
	if err != nil {
		return Average{}, err
	}
	if _, err := s.OverallAverage(ctx, ind.CampaignID, avgUserID, day); err != nil {
		return Average{}, err
	}
	return res, nil
}

// CompareToAverage measures the user's overall percentage against the platform
// average on a day. Differences within tolerance are reported as 0 in Toleranced.
func (s *AggregateService) CompareToAverage(ctx context.Context, campaignID, userID string, day time.Time, tolerance float64) (AverageComparison, error) {
	day = models.DayOf(day)
	overall, err := s.catalog.OverallIndicator(ctx, campaignID)
	if err != nil {
		return AverageComparison{}, err
	}
	avg, err := s.catalog.AverageUser(ctx)
	if err != nil {
		return AverageComparison{}, err
	}
	mine, err := s.store.GetAnswer(ctx, userID, overall.ID, day)
	if err != nil {
		if IsNotFound(err) {
			return AverageComparison{}, NewNotFoundError("no overall score for user")
		}
		return AverageComparison{}, err
	}
	norm, err := s.store.GetAnswer(ctx, avg.ID, overall.ID, day)
	if err != nil {
		if IsNotFound(err) {
			return AverageComparison{}, NewNotFoundError("no overall average")
		}
		return AverageComparison{}, err
	}
	userPct, err := AsPercentage(overall, mine.Value)
	if err != nil {
		return AverageComparison{}, err
	}
	avgPct, err := AsPercentage(overall, norm.Value)
	if err != nil {
		return AverageComparison{}, err
	}
	diff := userPct - avgPct
	out := AverageComparison{Toleranced: diff, Diff: diff}
	if math.Abs(diff) <= tolerance {
		out.Toleranced = 0
	}
	return out, nil
}

// UpdateComparedToAverage stores the user's raw distance to the platform
// average. Missing scores leave the stored value untouched.
func (s *AggregateService) UpdateComparedToAverage(ctx context.Context, campaignID, userID string, day time.Time) error {
	cmp, err := s.CompareToAverage(ctx, campaignID, userID, day, s.tolerance)
	if err != nil {
		if se, ok := AsServiceError(err); ok && se.Code == ErrorNotFound {
			return nil
		}
		return err
	}
	return errors.Wrap(s.store.UpdateComparedToAverage(ctx, userID, cmp.Diff), "update compared to average")
}

// Backfill recomputes every campaign's daily averages from to back to from,
// inclusive. A zero from starts at the earliest campaign start date.
func (s *AggregateService) Backfill(ctx context.Context, from, to time.Time) (int, error) {
	campaigns, err := s.store.ListCampaigns(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list campaigns")
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list groups")
	}
	avg, err := s.catalog.AverageUser(ctx)
	if err != nil {
		return 0, err
	}
	if from.IsZero() {
		for _, c := range campaigns {
			if from.IsZero() || c.StartDate.Before(from) {
				from = c.StartDate
			}
		}
		if from.IsZero() {
			s.log.Info("no campaigns, nothing to backfill")
			return 0, nil
		}
	}
	from, to = models.DayOf(from), models.DayOf(to)
	days := 0
	for day := to; !day.Before(from); day = day.AddDate(0, 0, -1) {
		if err := ctx.Err(); err != nil {
			return days, err
		}
		s.log.WithField("day", models.FormatDay(day)).Info("backfilling averages")
		for _, c := range campaigns {
			indicators, err := s.catalog.RegularIndicators(ctx, c.ID)
			if err != nil {
				return days, err
			}
			for _, ind := range indicators {
				if _, err := s.GroupAverage(ctx, ind.ID, day, ""); err != nil {
					return days, err
				}
				for _, g := range groups {
					if _, err := s.GroupAverage(ctx, ind.ID, day, g.ID); err != nil {
						return days, err
					}
				}
			}
			for _, g := range groups {
				if _, err := s.OverallAverage(ctx, c.ID, g.AvgUserID, day); err != nil {
					return days, err
				}
			}
			if _, err := s.OverallAverage(ctx, c.ID, avg.ID, day); err != nil {
				return days, err
			}
		}
		days++
	}
	return days, nil
}
