package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/models"
	"github.com/soaringjerry/goodenergy/internal/queue"
	"github.com/soaringjerry/goodenergy/internal/services"
)

// JobRecomputeDay recomputes one indicator for one day and scope.
const JobRecomputeDay = "recompute_day"

// DayRecompute is the payload of JobRecomputeDay. An empty GroupID means the platform.
type DayRecompute struct {
	IndicatorID string `json:"indicator_id"`
	Day         string `json:"day"`
	GroupID     string `json:"group_id,omitempty"`
}

// Aggregator is the part of services.AggregateService the handlers drive.
type Aggregator interface {
	UpdateAverages(ctx context.Context, answerID string) error
	RecomputeDay(ctx context.Context, indicatorID string, day time.Time, groupID string) (services.Average, error)
}

// AverageHandler recomputes the averages one answer feeds.
type AverageHandler struct {
	agg Aggregator
	log logrus.FieldLogger
}

func NewAverageHandler(agg Aggregator, log logrus.FieldLogger) *AverageHandler {
	return &AverageHandler{agg: agg, log: log}
}

func (h *AverageHandler) Kind() string { return services.JobAverage }

func (h *AverageHandler) Handle(ctx context.Context, job *queue.Job) error {
	err := h.agg.UpdateAverages(ctx, job.Payload)
	if services.IsNotFound(err) {
		h.log.WithField("answer_id", job.Payload).Warn("no answer with this id, dropping job")
		return nil
	}
	return classify(err)
}

// DayHandler runs JobRecomputeDay jobs.
type DayHandler struct {
	agg Aggregator
	log logrus.FieldLogger
}

func NewDayHandler(agg Aggregator, log logrus.FieldLogger) *DayHandler {
	return &DayHandler{agg: agg, log: log}
}

func (h *DayHandler) Kind() string { return JobRecomputeDay }

func (h *DayHandler) Handle(ctx context.Context, job *queue.Job) error {
	var req DayRecompute
	if err := json.Unmarshal([]byte(job.Payload), &req); err != nil {
		return backoff.Permanent(errors.Wrap(err, "decode payload"))
	}
	day, err := models.ParseDay(req.Day)
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "parse day"))
	}
	res, err := h.agg.RecomputeDay(ctx, req.IndicatorID, day, req.GroupID)
	if err != nil {
		return classify(err)
	}
	h.log.WithFields(logrus.Fields{
		"indicator_id": req.IndicatorID, "day": req.Day, "group_id": req.GroupID, "has_data": res.Valid,
	}).Debug("day recomputed")
	return nil
}

// classify marks errors that no retry can fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := services.AsServiceError(err); ok {
		switch se.Code {
		case services.ErrorConfiguration, services.ErrorInvalid, services.ErrorNotFound:
			return backoff.Permanent(err)
		}
	}
	return err
}
