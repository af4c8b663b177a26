package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/soaringjerry/goodenergy/internal/models"
)

// DefaultWindow is the number of entries in the moving average window.
const DefaultWindow = 30

// Point is one chart sample. It serializes as [date_ms_utc, value].
type Point struct {
	Day   time.Time
	Value float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Day.UTC().UnixMilli(), p.Value})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var raw [2]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Day = time.UnixMilli(int64(raw[0])).UTC()
	p.Value = raw[1]
	return nil
}

// ComparisonSeries holds raw values and moving averages for two scopes.
// Each list only carries dates with a defined value; lengths may differ.
type ComparisonSeries struct {
	FromData []Point `json:"from_data"`
	ToData   []Point `json:"to_data"`
	FromAvgs []Point `json:"from_avg_data"`
	ToAvgs   []Point `json:"to_avg_data"`
}

// IndicatorView is everything a chart of one indicator needs.
type IndicatorView struct {
	IndicatorID string `json:"indicator_id"`
	Name        string `json:"name"`
	Question    string `json:"question"`
	ComparisonSeries
	FromAverage float64   `json:"from_average"`
	ToAverage   float64   `json:"to_average"`
	ValueTicks  []float64 `json:"value_ticks"`
	ValueLabels []string  `json:"value_labels"`
	HoverLabels []string  `json:"hover_labels"`
	DisplayType string    `json:"display_type"`
}

// ComparisonService builds chart series comparing a user or group to another scope.
type ComparisonService struct {
	store      Store
	catalog    *Catalog
	dispatcher Dispatcher
	window     int
	now        func() time.Time
}

func NewComparisonService(store Store, catalog *Catalog, dispatcher Dispatcher) *ComparisonService {
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	return &ComparisonService{
		store:      store,
		catalog:    catalog,
		dispatcher: dispatcher,
		window:     DefaultWindow,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetWindow overrides DefaultWindow.
func (s *ComparisonService) SetWindow(n int) {
	if n > 0 {
		s.window = n
	}
}

// scopeUser resolves a scope to the user whose answers represent it.
func (s *ComparisonService) scopeUser(ctx context.Context, scope Scope) (string, error) {
	if scope.UserID != "" {
		if _, err := s.store.GetUser(ctx, scope.UserID); err != nil {
			if IsNotFound(err) {
				return "", NewNotFoundError("user not found")
			}
			return "", err
		}
		return scope.UserID, nil
	}
	return scopeAverageUser(ctx, s.store, s.catalog, scope.GroupID)
}

// BuildComparison loads both scopes' series and their moving averages. Dates
// where "from" has a value and "to" does not are filled with the "from" value
// and a recompute is requested for that answer.
func (s *ComparisonService) BuildComparison(ctx context.Context, indicatorID string, from, to Scope) (*ComparisonSeries, error) {
	if _, err := s.catalog.Indicator(ctx, indicatorID); err != nil {
		return nil, err
	}
	fromUser, err := s.scopeUser(ctx, from)
	if err != nil {
		return nil, err
	}
	toUser, err := s.scopeUser(ctx, to)
	if err != nil {
		return nil, err
	}
	fromSeries, err := s.store.ListSeries(ctx, fromUser, indicatorID)
	if err != nil {
		return nil, errors.Wrap(err, "list from series")
	}
	toSeries, err := s.store.ListSeries(ctx, toUser, indicatorID)
	if err != nil {
		return nil, errors.Wrap(err, "list to series")
	}

	out := &ComparisonSeries{
		FromData: rawPoints(fromSeries),
		FromAvgs: MovingAverages(fromSeries, s.window),
	}
	toRaw := pointMap(rawPoints(toSeries))
	toAvg := pointMap(MovingAverages(toSeries, s.window))
	for _, a := range fromSeries {
		if !a.Value.Valid {
			continue
		}
		day := models.DayOf(a.Day)
		if _, ok := toRaw[day]; ok {
			continue
		}
		s.dispatcher.RequestRecompute(ctx, a.ID)
		toRaw[day] = a.Value.Float64
		toAvg[day] = a.Value.Float64
	}
	out.ToData = sortedPoints(toRaw)
	out.ToAvgs = sortedPoints(toAvg)
	return out, nil
}

// IndicatorView wraps BuildComparison with the scopes' overall means and chart axis.
func (s *ComparisonService) IndicatorView(ctx context.Context, indicatorID string, from, to Scope) (*IndicatorView, error) {
	ind, err := s.catalog.Indicator(ctx, indicatorID)
	if err != nil {
		return nil, err
	}
	series, err := s.BuildComparison(ctx, indicatorID, from, to)
	if err != nil {
		return nil, err
	}
	view := &IndicatorView{
		IndicatorID:      ind.ID,
		Name:             ind.Name,
		Question:         ind.Question,
		ComparisonSeries: *series,
		DisplayType:      DisplayType(ind),
	}
	fromUser, err := s.scopeUser(ctx, from)
	if err != nil {
		return nil, err
	}
	if CanAverage(ind) {
		toUser, err := s.scopeUser(ctx, to)
		if err != nil {
			return nil, err
		}
		if view.FromAverage, err = s.MovingAverage(ctx, indicatorID, fromUser, 0); err != nil {
			return nil, err
		}
		if view.ToAverage, err = s.MovingAverage(ctx, indicatorID, toUser, 0); err != nil {
			return nil, err
		}
	}
	maxValue, err := s.store.MaxValue(ctx, fromUser, indicatorID)
	if err != nil {
		return nil, errors.Wrap(err, "max value")
	}
	axis := BuildGraphAxis(ind, maxValue)
	view.ValueTicks = axis.Ticks
	view.ValueLabels = axis.Labels
	view.HoverLabels = axis.Labels
	return view, nil
}

// MovingAverage is the mean of the user's answers over the daysBack days up
// to yesterday, or over all time when daysBack is 0. No answers yields 0.
func (s *ComparisonService) MovingAverage(ctx context.Context, indicatorID, userID string, daysBack int) (float64, error) {
	var from, to time.Time
	if daysBack > 0 {
		to = models.DayOf(s.now()).AddDate(0, 0, -1)
		from = to.AddDate(0, 0, -daysBack)
	}
	avg, err := s.store.AverageValue(ctx, userID, indicatorID, from, to)
	if err != nil {
		return 0, errors.Wrap(err, "average value")
	}
	return avg.Float64, nil
}

// MovingAverages computes, for each answer with a value, the mean of the last
// window values up to and including it. Answers must be ordered by day.
func MovingAverages(answers []*models.Answer, window int) []Point {
	if window <= 0 {
		window = DefaultWindow
	}
	var out []Point
	buf := make([]float64, 0, window)
	var sum float64
	for _, a := range answers {
		if a.IsSkip || !a.Value.Valid {
			continue
		}
		if len(buf) == window {
			sum -= buf[0]
			buf = buf[1:]
		}
		buf = append(buf, a.Value.Float64)
		sum += a.Value.Float64
		out = append(out, Point{Day: models.DayOf(a.Day), Value: sum / float64(len(buf))})
	}
	return out
}

func rawPoints(answers []*models.Answer) []Point {
	var out []Point
	for _, a := range answers {
		if a.IsSkip || !a.Value.Valid {
			continue
		}
		out = append(out, Point{Day: models.DayOf(a.Day), Value: a.Value.Float64})
	}
	return out
}

func pointMap(points []Point) map[time.Time]float64 {
	m := make(map[time.Time]float64, len(points))
	for _, p := range points {
		m[p.Day] = p.Value
	}
	return m
}

func sortedPoints(m map[time.Time]float64) []Point {
	out := make([]Point, 0, len(m))
	for day, v := range m {
		out = append(out, Point{Day: day, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}
