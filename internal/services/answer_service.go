package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

func newID() string { return uuid.NewString() }

// SubmitAnswerRequest carries one answer from a user.
type SubmitAnswerRequest struct {
	UserID      string   `json:"user_id" validate:"required"`
	IndicatorID string   `json:"indicator_id" validate:"required"`
	Day         string   `json:"day" validate:"omitempty,datetime=2006-01-02"`
	Value       *float64 `json:"value" validate:"required_without=Skip"`
	Skip        bool     `json:"skip"`
	// Synchronous forces (true) or forbids (false) an inline recompute. When
	// nil the recompute runs inline only for the user's last indicator of the day.
	Synchronous *bool `json:"synchronous,omitempty"`
}

// SubmitAnswerResult reports the stored answer and how averages were scheduled.
type SubmitAnswerResult struct {
	Answer     *models.Answer
	Created    bool
	Recomputed bool
	Dispatched bool
}

// Recomputer runs the averages of one answer inline.
type Recomputer interface {
	UpdateAverages(ctx context.Context, answerID string) error
}

// AnswerService owns the daily answer workflow.
type AnswerService struct {
	store       Store
	catalog     *Catalog
	recomputer  Recomputer
	dispatcher  Dispatcher
	log         logrus.FieldLogger
	now         func() time.Time
	idGenerator func() string
}

func NewAnswerService(store Store, catalog *Catalog, recomputer Recomputer, dispatcher Dispatcher, log logrus.FieldLogger) *AnswerService {
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AnswerService{
		store:       store,
		catalog:     catalog,
		recomputer:  recomputer,
		dispatcher:  dispatcher,
		log:         log.WithField("component", "answers"),
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: newID,
	}
}

// Yesterday is the user's previous calendar day in their own timezone.
func (s *AnswerService) Yesterday(u *models.User) time.Time {
	local := s.now().In(u.Location())
	return models.DayOf(local).AddDate(0, 0, -1)
}

// DefaultDay is Yesterday for the user with the given id.
func (s *AnswerService) DefaultDay(ctx context.Context, userID string) (time.Time, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return time.Time{}, NewNotFoundError("user not found")
		}
		return time.Time{}, err
	}
	return s.Yesterday(u), nil
}

// SubmitAnswer creates or updates the user's answer for the indicator and day,
// awards a participation point for new answers and schedules the averages.
func (s *AnswerService) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFoundError("user not found")
		}
		return nil, err
	}
	if user.IsSystemUser {
		return nil, NewForbiddenError("system users cannot answer")
	}
	ind, err := s.catalog.Indicator(ctx, req.IndicatorID)
	if err != nil {
		return nil, err
	}
	if ind.IsSynthetic {
		return nil, NewInvalidError("indicator is computed and cannot be answered")
	}

	day := s.Yesterday(user)
	if req.Day != "" {
		if day, err = models.ParseDay(req.Day); err != nil {
			return nil, NewInvalidError("day must be YYYY-MM-DD")
		}
	}

	answer := &models.Answer{
		ID:          s.idGenerator(),
		UserID:      user.ID,
		IndicatorID: ind.ID,
		Day:         day,
		IsSkip:      req.Skip,
		CreatedAt:   s.now(),
	}
	if !req.Skip {
		if err := ValidateValue(ind, *req.Value); err != nil {
			return nil, err
		}
		answer.Value = null.Float64From(*req.Value)
	}

	saved, created, err := s.store.SaveAnswer(ctx, answer)
	if err != nil {
		return nil, errors.Wrap(err, "save answer")
	}
	result := &SubmitAnswerResult{Answer: saved, Created: created}
	if created {
		if err := s.store.AddParticipationPoints(ctx, user.ID, 1); err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Warn("participation points not awarded")
		}
	}
	if saved.IsSkip {
		return result, nil
	}

	inline, err := s.recomputeInline(ctx, req.Synchronous, ind.CampaignID, user.ID, day)
	if err != nil {
		return nil, err
	}
	if inline {
		if err := s.recomputer.UpdateAverages(ctx, saved.ID); err != nil {
			return nil, err
		}
		result.Recomputed = true
		return result, nil
	}
	s.dispatcher.RequestRecompute(ctx, saved.ID)
	result.Dispatched = true
	return result, nil
}

func (s *AnswerService) recomputeInline(ctx context.Context, synchronous *bool, campaignID, userID string, day time.Time) (bool, error) {
	if synchronous != nil {
		return *synchronous, nil
	}
	_, err := s.NextIndicator(ctx, campaignID, userID, day)
	switch {
	case errors.Is(err, ErrAllAnswered):
		return true, nil
	case err != nil:
		return false, err
	}
	return false, nil
}

// NextIndicator returns the first indicator of the campaign, by position, the
// user has not answered on day. ErrAllAnswered means none is left.
func (s *AnswerService) NextIndicator(ctx context.Context, campaignID, userID string, day time.Time) (*models.Indicator, error) {
	indicators, err := s.catalog.RegularIndicators(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, ind := range indicators {
		_, err := s.store.GetAnswer(ctx, userID, ind.ID, day)
		if IsNotFound(err) {
			return ind, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "get answer")
		}
	}
	return nil, ErrAllAnswered
}

// Previously returns the user's most recent answer on any day, or nil if there is none.
func (s *AnswerService) Previously(ctx context.Context, userID, indicatorID string) (*models.Answer, error) {
	a, err := s.store.LatestAnswer(ctx, userID, indicatorID)
	if IsNotFound(err) {
		return nil, nil
	}
	return a, err
}

// Participation counts answers per day for the indicator.
func (s *AnswerService) Participation(ctx context.Context, indicatorID string) ([]models.DayCount, error) {
	if _, err := s.catalog.Indicator(ctx, indicatorID); err != nil {
		return nil, err
	}
	return s.store.Participation(ctx, indicatorID)
}
