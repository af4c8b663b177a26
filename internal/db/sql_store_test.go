package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
	"github.com/soaringjerry/goodenergy/internal/services"
)

var testDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := Open(ctx, DriverSQLite, dsn, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, RunMigrations(ctx, store.DB(), DriverSQLite, "", nil))
	return store
}

// seedDirectory creates alice, bob, a system user and group g1 holding alice.
func seedDirectory(t *testing.T, s *SQLStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateOrganization(ctx, &models.Organization{ID: "org", Name: "Org", Slug: "org"}))
	for _, u := range []*models.User{
		{ID: "alice", OrganizationID: "org", Username: "alice", CreatedAt: now},
		{ID: "bob", OrganizationID: "org", Username: "bob", Timezone: "Europe/Paris", CreatedAt: now},
		{ID: "avg", Username: models.AverageUsername, IsSystemUser: true, CreatedAt: now},
	} {
		require.NoError(t, s.CreateUser(ctx, u))
	}
	require.NoError(t, s.CreateGroup(ctx, &models.Group{ID: "g1", OrganizationID: "org", Name: "eng", AvgUserID: "avg"}))
	require.NoError(t, s.AddGroupMember(ctx, "g1", "alice"))
	require.NoError(t, s.CreateCampaign(ctx, &models.Campaign{
		ID: "c1", OrganizationID: "org", Name: "Spring", Slug: "spring",
		StartDate: testDay.AddDate(0, 0, -30), EndDate: testDay.AddDate(0, 0, 30),
	}))
	require.NoError(t, s.CreateIndicator(ctx, &models.Indicator{
		ID: "sleep", CampaignID: "c1", Position: null.IntFrom(1), Name: "Sleep",
		Scale:     models.Scale{Kind: models.ScaleNumeric, RangeStart: null.Float64From(0), RangeEnd: null.Float64From(12), Target: null.Float64From(8)},
		CreatedAt: now,
	}))
}

func put(t *testing.T, s *SQLStore, id, user string, day time.Time, value null.Float64, skip bool) {
	t.Helper()
	_, err := s.UpsertAnswer(context.Background(), &models.Answer{
		ID: id, UserID: user, IndicatorID: "sleep", Day: day, Value: value, IsSkip: skip, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, RunMigrations(context.Background(), s.DB(), DriverSQLite, "", nil))
	empty, err := s.IsEmpty(context.Background())
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Equal(t, DriverSQLite, s.Driver())
}

func TestUpsertAnswerKeepsOneRowPerSlot(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	put(t, s, "first", "alice", testDay, null.Float64From(6), false)
	put(t, s, "second", "alice", testDay, null.Float64From(7), false)

	got, err := s.GetAnswer(ctx, "alice", "sleep", testDay)
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID)
	assert.Equal(t, 7.0, got.Value.Float64)
	assert.True(t, got.Day.Equal(testDay))

	_, err = s.GetAnswerByID(ctx, "second")
	assert.ErrorIs(t, err, services.ErrNotFound)

	// a skip clears the stored value
	put(t, s, "third", "alice", testDay, null.Float64From(9), true)
	got, err = s.GetAnswerByID(ctx, "first")
	require.NoError(t, err)
	assert.True(t, got.IsSkip)
	assert.False(t, got.Value.Valid)
}

func TestSaveAnswerReportsCreated(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	a := &models.Answer{ID: "a1", UserID: "bob", IndicatorID: "sleep", Day: testDay, Value: null.Float64From(5)}

	saved, created, err := s.SaveAnswer(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a1", saved.ID)

	a.ID, a.Value = "a2", null.Float64From(4)
	saved, created, err = s.SaveAnswer(ctx, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a1", saved.ID)
	assert.Equal(t, 4.0, saved.Value.Float64)
}

func TestListDayAnswersFiltersPopulation(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	put(t, s, "a", "alice", testDay, null.Float64From(6), false)
	put(t, s, "b", "bob", testDay, null.Float64From(8), false)
	put(t, s, "v", "avg", testDay, null.Float64From(7), false)
	put(t, s, "old", "bob", testDay.AddDate(0, 0, -1), null.Float64From(1), false)

	all, err := s.ListDayAnswers(ctx, "sleep", testDay, services.PopulationFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, answerIDs(all))

	group, err := s.ListDayAnswers(ctx, "sleep", testDay, services.PopulationFilter{GroupID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, answerIDs(group))
}

func TestSeriesAverageAndMax(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	put(t, s, "d3", "alice", testDay, null.Float64From(9), false)
	put(t, s, "d1", "alice", testDay.AddDate(0, 0, -2), null.Float64From(3), false)
	put(t, s, "d2", "alice", testDay.AddDate(0, 0, -1), null.Float64{}, true)

	series, err := s.ListSeries(ctx, "alice", "sleep")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, answerIDs(series))

	avg, err := s.AverageValue(ctx, "alice", "sleep", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, null.Float64From(6), avg)

	avg, err = s.AverageValue(ctx, "alice", "sleep", testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 9.0, avg.Float64)

	avg, err = s.AverageValue(ctx, "bob", "sleep", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, avg.Valid)

	top, err := s.MaxValue(ctx, "alice", "sleep")
	require.NoError(t, err)
	assert.Equal(t, 9.0, top.Float64)

	day, err := s.ListUserDayAnswers(ctx, "alice", testDay.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, day)
}

func TestLatestAnswerIncludesSkips(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	put(t, s, "l1", "alice", testDay.AddDate(0, 0, -4), null.Float64From(7), false)
	put(t, s, "l2", "alice", testDay.AddDate(0, 0, -1), null.Float64{}, true)

	latest, err := s.LatestAnswer(ctx, "alice", "sleep")
	require.NoError(t, err)
	assert.Equal(t, "l2", latest.ID)
	assert.True(t, latest.IsSkip)

	_, err = s.LatestAnswer(ctx, "bob", "sleep")
	assert.True(t, services.IsNotFound(err))
}

func TestParticipationCountsRealUsers(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	put(t, s, "a", "alice", testDay, null.Float64From(6), false)
	put(t, s, "b", "bob", testDay, null.Float64{}, true)
	put(t, s, "v", "avg", testDay, null.Float64From(6), false)
	put(t, s, "a0", "alice", testDay.AddDate(0, 0, -1), null.Float64From(6), false)

	counts, err := s.Participation(context.Background(), "sleep")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "2026-03-09", models.FormatDay(counts[0].Day))
	assert.Equal(t, 1, counts[0].Count)
	assert.Equal(t, 2, counts[1].Count)
}

func TestIndicatorsWithLevels(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	mood := &models.Indicator{
		ID: "mood", CampaignID: "c1", Position: null.IntFrom(2), Name: "Mood",
		Scale: models.Scale{Kind: models.ScaleLikert, Levels: []models.Level{
			{Position: 2, Label: "ok"}, {Position: 1, Label: "bad"}, {Position: 3, Label: "good"},
		}},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateIndicator(ctx, mood))
	require.NoError(t, s.CreateIndicator(ctx, &models.Indicator{
		ID: "overall", CampaignID: "c1", Name: models.OverallIndicatorName, IsSynthetic: true,
		Scale:     models.Scale{Kind: models.ScaleNumeric, RangeStart: null.Float64From(0), RangeEnd: null.Float64From(100)},
		CreatedAt: time.Now(),
	}))

	got, err := s.GetIndicator(ctx, "mood")
	require.NoError(t, err)
	require.Len(t, got.Scale.Levels, 3)
	assert.Equal(t, "bad", got.Scale.Levels[0].Label)
	assert.Equal(t, "good", got.Scale.Levels[2].Label)

	regular, err := s.ListRegularIndicators(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, regular, 2)
	assert.Equal(t, "sleep", regular[0].ID)
	assert.Equal(t, 8.0, regular[0].Scale.Target.Float64)
	assert.Empty(t, regular[0].Scale.Levels)

	overall, err := s.FindOverallIndicator(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "overall", overall.ID)
	assert.False(t, overall.Position.Valid)

	_, err = s.FindOverallIndicator(ctx, "nope")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestDirectory(t *testing.T) {
	s := newTestStore(t)
	seedDirectory(t, s)
	ctx := context.Background()

	bob, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", bob.Timezone)
	alice, err := s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "UTC", alice.Timezone)
	_, err = s.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, services.ErrNotFound)

	require.NoError(t, s.AddParticipationPoints(ctx, "alice", 2))
	require.NoError(t, s.UpdateComparedToAverage(ctx, "alice", 12.5))
	alice, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, alice.ParticipationPoints)
	assert.Equal(t, 12.5, alice.ComparedToAverage)

	groups, err := s.ListUserGroups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "avg", groups[0].AvgUserID)
	groups, err = s.ListUserGroups(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, groups)

	require.NoError(t, s.AddCampaignMember(ctx, "c1", "alice"))
	require.NoError(t, s.AddCampaignMember(ctx, "c1", "alice"))
	require.NoError(t, s.AddCampaignMember(ctx, "c1", "bob"))
	require.NoError(t, s.AddCampaignMember(ctx, "c1", "avg"))
	n, err := s.CountCampaignMembers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	above, err := s.CountCampaignMembersAbove(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, above)

	c, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", models.FormatDay(c.StartDate))
	empty, err := s.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)
}

const fixtureYAML = `
organization:
  name: Demo
  slug: demo
campaigns:
  - name: Spring
    slug: spring
    start: 2026-03-01
    end: 2026-03-31
    indicators:
      - name: Energy
        kind: likert
        levels:
          - {position: 1, label: low}
          - {position: 2, label: mid}
          - {position: 3, label: high}
      - name: Sleep
        kind: number
        range_start: 0
        range_end: 12
        target: 8
users:
  - username: alice
    timezone: Europe/Paris
    campaigns: [spring]
  - username: bob
    campaigns: [spring]
groups:
  - name: engineering
    members: [alice]
`

func TestSeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fx, err := ParseFixture([]byte(fixtureYAML))
	require.NoError(t, err)
	catalog, err := services.NewCatalog(s, 16)
	require.NoError(t, err)

	require.NoError(t, Seed(ctx, s, catalog, fx))

	campaigns, err := s.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	cid := campaigns[0].ID

	regular, err := s.ListRegularIndicators(ctx, cid)
	require.NoError(t, err)
	require.Len(t, regular, 2)
	assert.Equal(t, models.ScaleLikert, regular[0].Scale.Kind)
	assert.Len(t, regular[0].Scale.Levels, 3)

	_, err = s.FindOverallIndicator(ctx, cid)
	require.NoError(t, err)

	avg, err := s.FindUserByUsername(ctx, models.AverageUsername)
	require.NoError(t, err)
	assert.True(t, avg.IsSystemUser)

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	groupAvg, err := s.GetUser(ctx, groups[0].AvgUserID)
	require.NoError(t, err)
	assert.True(t, groupAvg.IsSystemUser)

	n, err := s.CountCampaignMembers(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestParseFixtureRejectsBadYAML(t *testing.T) {
	_, err := ParseFixture([]byte("organization: [unclosed"))
	assert.Error(t, err)
}

func answerIDs(list []*models.Answer) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
