package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
	"github.com/soaringjerry/goodenergy/internal/services"
	"github.com/soaringjerry/goodenergy/internal/worker"
)

// parseScope reads "user:ID", "group:ID" or "platform". Empty yields def.
func parseScope(s string, def services.Scope) (services.Scope, error) {
	if s == "" {
		return def, nil
	}
	if s == "platform" {
		return services.Scope{}, nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return services.Scope{}, services.NewInvalidError("scope must be user:<id>, group:<id> or platform")
	}
	switch kind {
	case "user":
		return services.Scope{UserID: id}, nil
	case "group":
		return services.Scope{GroupID: id}, nil
	}
	return services.Scope{}, services.NewInvalidError("unknown scope kind " + kind)
}

// GET /api/indicators/{id}/comparison?from=user:ID|group:ID&to=group:ID|platform
// from defaults to the caller, to to the platform average.
func (rt *Router) handleComparison(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := parseScope(q.Get("from"), services.Scope{UserID: a.UserID})
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	to, err := parseScope(q.Get("to"), services.Scope{})
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	view, err := rt.svc.Comparisons.IndicatorView(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/indicators/{id}/percentage?value=N
func (rt *Router) handlePercentage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("value")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fail(w, rt.log, &services.ServiceError{
			Code:    services.ErrorInvalid,
			Message: "value must be a number",
			Fields:  map[string]string{"value": "must be a number"},
		})
		return
	}
	ind, err := rt.svc.Catalog.Indicator(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	pct, err := services.AsPercentage(ind, null.Float64From(v))
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indicator_id": ind.ID, "value": v, "percentage": pct})
}

type dayCountJSON struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// GET /api/indicators/{id}/participation
func (rt *Router) handleParticipation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	counts, err := rt.svc.Answers.Participation(r.Context(), id)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	out := make([]dayCountJSON, 0, len(counts))
	for _, c := range counts {
		out = append(out, dayCountJSON{Day: models.FormatDay(c.Day), Count: c.Count})
	}
	writeJSON(w, http.StatusOK, map[string]any{"indicator_id": id, "days": out})
}

type recomputeRequest struct {
	IndicatorID string `json:"indicator_id" validate:"required"`
	Day         string `json:"day" validate:"required,datetime=2006-01-02"`
	GroupID     string `json:"group_id"`
	Async       bool   `json:"async"`
}

// POST /api/recompute
// { indicator_id, day, group_id?, async? }
func (rt *Router) handleRecompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, rt.log, err)
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		fail(w, rt.log, err)
		return
	}
	if req.Async {
		if rt.svc.Days == nil {
			fail(w, rt.log, services.NewInvalidError("asynchronous recompute is not available"))
			return
		}
		jobID, err := rt.svc.Days.RequestDayRecompute(r.Context(), worker.DayRecompute{
			IndicatorID: req.IndicatorID, Day: req.Day, GroupID: req.GroupID,
		})
		if err != nil {
			fail(w, rt.log, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
		return
	}
	day, _ := models.ParseDay(req.Day)
	avg, err := rt.svc.Aggregates.RecomputeDay(r.Context(), req.IndicatorID, day, req.GroupID)
	if err != nil {
		fail(w, rt.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"indicator_id": req.IndicatorID,
		"day":          req.Day,
		"group_id":     req.GroupID,
		"average":      avg,
	})
}
