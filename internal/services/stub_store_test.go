package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

type stubStore struct {
	mu              sync.Mutex
	answers         map[string]*models.Answer
	indicators      map[string]*models.Indicator
	users           map[string]*models.User
	groups          map[string]*models.Group
	groupMembers    map[string]map[string]bool
	campaigns       map[string]*models.Campaign
	campaignMembers map[string][]string
	upserts         int
}

var _ Store = (*stubStore)(nil)

func newStubStore() *stubStore {
	return &stubStore{
		answers:         map[string]*models.Answer{},
		indicators:      map[string]*models.Indicator{},
		users:           map[string]*models.User{},
		groups:          map[string]*models.Group{},
		groupMembers:    map[string]map[string]bool{},
		campaigns:       map[string]*models.Campaign{},
		campaignMembers: map[string][]string{},
	}
}

func (s *stubStore) slot(userID, indicatorID string, day time.Time) *models.Answer {
	day = models.DayOf(day)
	for _, a := range s.answers {
		if a.UserID == userID && a.IndicatorID == indicatorID && a.Day.Equal(day) {
			return a
		}
	}
	return nil
}

// slotCount counts stored answers for one (user, indicator, day).
func (s *stubStore) slotCount(userID, indicatorID string, day time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.answers {
		if a.UserID == userID && a.IndicatorID == indicatorID && a.Day.Equal(models.DayOf(day)) {
			n++
		}
	}
	return n
}

func cp(a *models.Answer) *models.Answer {
	c := *a
	return &c
}

func (s *stubStore) GetAnswer(_ context.Context, userID, indicatorID string, day time.Time) (*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.slot(userID, indicatorID, day); a != nil {
		return cp(a), nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) GetAnswerByID(_ context.Context, id string) (*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.answers[id]; ok {
		return cp(a), nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) ListDayAnswers(_ context.Context, indicatorID string, day time.Time, filter PopulationFilter) ([]*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Answer
	for _, a := range s.answers {
		if a.IndicatorID != indicatorID || !a.Day.Equal(models.DayOf(day)) {
			continue
		}
		if u := s.users[a.UserID]; u == nil || u.IsSystemUser {
			continue
		}
		if filter.GroupID != "" && !s.groupMembers[filter.GroupID][a.UserID] {
			continue
		}
		out = append(out, cp(a))
	}
	return out, nil
}

func byDay(out []*models.Answer) []*models.Answer {
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

func (s *stubStore) LatestAnswer(_ context.Context, userID, indicatorID string) (*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Answer
	for _, a := range s.answers {
		if a.UserID == userID && a.IndicatorID == indicatorID && (latest == nil || a.Day.After(latest.Day)) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cp(latest), nil
}

func (s *stubStore) ListSeries(_ context.Context, userID, indicatorID string) ([]*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Answer
	for _, a := range s.answers {
		if a.UserID == userID && a.IndicatorID == indicatorID && !a.IsSkip {
			out = append(out, cp(a))
		}
	}
	return byDay(out), nil
}

func (s *stubStore) ListUserDayAnswers(_ context.Context, userID string, day time.Time) ([]*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Answer
	for _, a := range s.answers {
		if a.UserID == userID && a.Day.Equal(models.DayOf(day)) && !a.IsSkip {
			out = append(out, cp(a))
		}
	}
	return out, nil
}

func (s *stubStore) put(a *models.Answer) (*models.Answer, bool) {
	a = cp(a)
	a.Day = models.DayOf(a.Day)
	if existing := s.slot(a.UserID, a.IndicatorID, a.Day); existing != nil {
		existing.Value = a.Value
		existing.IsSkip = a.IsSkip
		return cp(existing), false
	}
	s.answers[a.ID] = a
	return cp(a), true
}

func (s *stubStore) UpsertAnswer(_ context.Context, a *models.Answer) (*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	out, _ := s.put(a)
	return out, nil
}

func (s *stubStore) SaveAnswer(_ context.Context, a *models.Answer) (*models.Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, created := s.put(a)
	return out, created, nil
}

func (s *stubStore) AverageValue(_ context.Context, userID, indicatorID string, from, to time.Time) (null.Float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	var n int
	for _, a := range s.answers {
		if a.UserID != userID || a.IndicatorID != indicatorID || a.IsSkip || !a.Value.Valid {
			continue
		}
		if (!from.IsZero() && a.Day.Before(from)) || (!to.IsZero() && a.Day.After(to)) {
			continue
		}
		sum += a.Value.Float64
		n++
	}
	if n == 0 {
		return null.Float64{}, nil
	}
	return null.Float64From(sum / float64(n)), nil
}

func (s *stubStore) MaxValue(_ context.Context, userID, indicatorID string) (null.Float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var top null.Float64
	for _, a := range s.answers {
		if a.UserID != userID || a.IndicatorID != indicatorID || a.IsSkip || !a.Value.Valid {
			continue
		}
		if !top.Valid || a.Value.Float64 > top.Float64 {
			top = a.Value
		}
	}
	return top, nil
}

func (s *stubStore) Participation(_ context.Context, indicatorID string) ([]models.DayCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[time.Time]int{}
	for _, a := range s.answers {
		if a.IndicatorID == indicatorID {
			counts[a.Day]++
		}
	}
	out := make([]models.DayCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, models.DayCount{Day: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *stubStore) GetIndicator(_ context.Context, id string) (*models.Indicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ind, ok := s.indicators[id]; ok {
		return ind, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) ListRegularIndicators(_ context.Context, campaignID string) ([]*models.Indicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Indicator
	for _, ind := range s.indicators {
		if ind.CampaignID == campaignID && !ind.IsSynthetic {
			out = append(out, ind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position.Int < out[j].Position.Int })
	return out, nil
}

func (s *stubStore) FindOverallIndicator(_ context.Context, campaignID string) (*models.Indicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range s.indicators {
		if ind.CampaignID == campaignID && ind.IsSynthetic && ind.Name == models.OverallIndicatorName {
			return ind, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) CreateIndicator(_ context.Context, ind *models.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[ind.ID] = ind
	return nil
}

func (s *stubStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *u
	s.users[u.ID] = &c
	return nil
}

func (s *stubStore) UpdateComparedToAverage(_ context.Context, userID string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ComparedToAverage = value
	return nil
}

func (s *stubStore) AddParticipationPoints(_ context.Context, userID string, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ParticipationPoints += points
	return nil
}

func (s *stubStore) GetGroup(_ context.Context, id string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[id]; ok {
		return g, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) ListGroups(context.Context) ([]*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) ListUserGroups(_ context.Context, userID string) ([]*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Group
	for id, members := range s.groupMembers {
		if members[userID] {
			out = append(out, s.groups[id])
		}
	}
	return out, nil
}

func (s *stubStore) CreateGroup(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return nil
}

func (s *stubStore) AddGroupMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupMembers[groupID] == nil {
		s.groupMembers[groupID] = map[string]bool{}
	}
	s.groupMembers[groupID][userID] = true
	return nil
}

func (s *stubStore) GetCampaign(_ context.Context, id string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) ListCampaigns(context.Context) ([]*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (s *stubStore) CreateCampaign(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return nil
}

func (s *stubStore) AddCampaignMember(_ context.Context, campaignID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignMembers[campaignID] = append(s.campaignMembers[campaignID], userID)
	return nil
}

func (s *stubStore) CountCampaignMembers(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.campaignMembers[campaignID]), nil
}

func (s *stubStore) CountCampaignMembersAbove(_ context.Context, campaignID string, value float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.campaignMembers[campaignID] {
		if u := s.users[id]; u != nil && u.ComparedToAverage > value {
			n++
		}
	}
	return n, nil
}

// fixture is one campaign with a 5-level Likert indicator, a numeric
// indicator (0..12, target 8), two participants and one group holding alice.
type fixture struct {
	store    *stubStore
	catalog  *Catalog
	agg      *AggregateService
	campaign *models.Campaign
	energy   *models.Indicator
	sleep    *models.Indicator
	overall  *models.Indicator
	average  *models.User
	alice    *models.User
	bob      *models.User
	group    *models.Group
	day      time.Time
}

func likertLevels(n int) []models.Level {
	levels := make([]models.Level, n)
	for i := range levels {
		levels[i] = models.Level{Position: i + 1, Label: string(rune('a' + i))}
	}
	return levels
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := newStubStore()
	catalog, err := NewCatalog(st, 16)
	require.NoError(t, err)

	f := &fixture{store: st, catalog: catalog, day: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	f.campaign = &models.Campaign{ID: "c1", Name: "Spring", Slug: "spring", StartDate: f.day.AddDate(0, 0, -30), EndDate: f.day.AddDate(0, 0, 30)}
	require.NoError(t, st.CreateCampaign(ctx, f.campaign))

	f.energy = &models.Indicator{
		ID: "energy", CampaignID: "c1", Position: null.IntFrom(1), Name: "Energy",
		Scale: models.Scale{Kind: models.ScaleLikert, Levels: likertLevels(5)},
	}
	f.sleep = &models.Indicator{
		ID: "sleep", CampaignID: "c1", Position: null.IntFrom(2), Name: "Sleep",
		Scale: models.Scale{Kind: models.ScaleNumeric, RangeStart: null.Float64From(0), RangeEnd: null.Float64From(12), Target: null.Float64From(8)},
	}
	require.NoError(t, catalog.AddIndicator(ctx, f.energy))
	require.NoError(t, catalog.AddIndicator(ctx, f.sleep))
	f.overall, err = catalog.EnsureOverallIndicator(ctx, "c1")
	require.NoError(t, err)

	f.average = &models.User{ID: "avg", Username: models.AverageUsername, IsSystemUser: true}
	f.alice = &models.User{ID: "alice", Username: "alice", Timezone: "UTC"}
	f.bob = &models.User{ID: "bob", Username: "bob", Timezone: "UTC"}
	groupAvg := &models.User{ID: "avg-g1", Username: "avg-g1", IsSystemUser: true}
	for _, u := range []*models.User{f.average, f.alice, f.bob, groupAvg} {
		require.NoError(t, st.CreateUser(ctx, u))
	}
	require.NoError(t, st.AddCampaignMember(ctx, "c1", "alice"))
	require.NoError(t, st.AddCampaignMember(ctx, "c1", "bob"))

	f.group = &models.Group{ID: "g1", Name: "engineering", AvgUserID: groupAvg.ID}
	require.NoError(t, st.CreateGroup(ctx, f.group))
	require.NoError(t, st.AddGroupMember(ctx, "g1", "alice"))

	f.agg = NewAggregateService(st, catalog, nil)
	return f
}

// answer stores a raw answer directly, bypassing the answer workflow.
func (f *fixture) answer(t *testing.T, id, userID, indicatorID string, day time.Time, value null.Float64, skip bool) *models.Answer {
	t.Helper()
	a, _, err := f.store.SaveAnswer(context.Background(), &models.Answer{
		ID: id, UserID: userID, IndicatorID: indicatorID, Day: day, Value: value, IsSkip: skip,
	})
	require.NoError(t, err)
	return a
}
