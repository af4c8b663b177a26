package api

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
	"github.com/soaringjerry/goodenergy/internal/services"
)

type answerJSON struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	IndicatorID string       `json:"indicator_id"`
	Day         string       `json:"day"`
	Value       null.Float64 `json:"value"`
	IsSkip      bool         `json:"is_skip"`
	CreatedAt   time.Time    `json:"created_at"`
}

func toAnswerJSON(a *models.Answer) answerJSON {
	return answerJSON{
		ID:          a.ID,
		UserID:      a.UserID,
		IndicatorID: a.IndicatorID,
		Day:         models.FormatDay(a.Day),
		Value:       a.Value,
		IsSkip:      a.IsSkip,
		CreatedAt:   a.CreatedAt,
	}
}

type scaleJSON struct {
	Kind         models.ScaleKind `json:"kind"`
	Levels       []models.Level   `json:"levels,omitempty"`
	RangeStart   null.Float64     `json:"range_start"`
	RangeEnd     null.Float64     `json:"range_end"`
	Target       null.Float64     `json:"target"`
	IsPercentage bool             `json:"is_percentage"`
}

type indicatorJSON struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Position    null.Int  `json:"position"`
	Name        string    `json:"name"`
	Question    string    `json:"question"`
	DisplayType string    `json:"display_type"`
	Scale       scaleJSON `json:"scale"`
}

func toIndicatorJSON(ind *models.Indicator) indicatorJSON {
	return indicatorJSON{
		ID:          ind.ID,
		CampaignID:  ind.CampaignID,
		Position:    ind.Position,
		Name:        ind.Name,
		Question:    ind.Question,
		DisplayType: services.DisplayType(ind),
		Scale: scaleJSON{
			Kind:         ind.Scale.Kind,
			Levels:       ind.Scale.Levels,
			RangeStart:   ind.Scale.RangeStart,
			RangeEnd:     ind.Scale.RangeEnd,
			Target:       ind.Scale.Target,
			IsPercentage: ind.Scale.IsPercentage,
		},
	}
}

// POST /api/answers
// { indicator_id, day?, value?, skip?, synchronous? }
func (rt *Router) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req services.SubmitAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, rt.log, err)
		return
	}
	req.UserID = a.UserID

	res, err := rt.svc.Answers.SubmitAnswer(r.Context(), req)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"answer":     toAnswerJSON(res.Answer),
		"created":    res.Created,
		"recomputed": res.Recomputed,
		"dispatched": res.Dispatched,
	})
}

// GET /api/campaigns/{id}/next?day=YYYY-MM-DD
func (rt *Router) handleNextIndicator(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	campaignID := r.PathValue("id")
	day, err := rt.dayParam(r, a.UserID)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	ind, err := rt.svc.Answers.NextIndicator(r.Context(), campaignID, a.UserID, day)
	if errors.Is(err, services.ErrAllAnswered) {
		writeJSON(w, http.StatusOK, map[string]any{"day": models.FormatDay(day), "done": true})
		return
	}
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	resp := map[string]any{"day": models.FormatDay(day), "done": false, "indicator": toIndicatorJSON(ind)}
	prev, err := rt.svc.Answers.Previously(r.Context(), a.UserID, ind.ID)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	if prev != nil {
		resp["previously"] = toAnswerJSON(prev)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/campaigns/{id}/rank
func (rt *Router) handleRank(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	rank, err := rt.svc.Ranking.Rank(r.Context(), r.PathValue("id"), a.UserID)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rank)
}

// dayParam reads ?day= or falls back to yesterday in the user's timezone.
func (rt *Router) dayParam(r *http.Request, userID string) (time.Time, error) {
	if s := r.URL.Query().Get("day"); s != "" {
		day, err := models.ParseDay(s)
		if err != nil {
			return time.Time{}, services.NewInvalidError("day must be YYYY-MM-DD")
		}
		return day, nil
	}
	return rt.svc.Answers.DefaultDay(r.Context(), userID)
}
