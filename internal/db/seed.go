package db

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/goodenergy/internal/models"
	"github.com/soaringjerry/goodenergy/internal/services"
)

// Fixture describes an organization with its campaigns, groups and users.
type Fixture struct {
	Organization struct {
		Name string `yaml:"name"`
		Slug string `yaml:"slug"`
	} `yaml:"organization"`
	Campaigns []CampaignFixture `yaml:"campaigns"`
	Groups    []GroupFixture    `yaml:"groups"`
	Users     []UserFixture     `yaml:"users"`
}

type CampaignFixture struct {
	Name       string             `yaml:"name"`
	Slug       string             `yaml:"slug"`
	Start      string             `yaml:"start"`
	End        string             `yaml:"end"`
	FixedDates bool               `yaml:"fixed_dates"`
	Indicators []IndicatorFixture `yaml:"indicators"`
}

type IndicatorFixture struct {
	Name       string         `yaml:"name"`
	Question   string         `yaml:"question"`
	Kind       string         `yaml:"kind"`
	Levels     []models.Level `yaml:"levels"`
	RangeStart *float64       `yaml:"range_start"`
	RangeEnd   *float64       `yaml:"range_end"`
	Target     *float64       `yaml:"target"`
	Percentage bool           `yaml:"percentage"`
}

type GroupFixture struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type UserFixture struct {
	Username  string   `yaml:"username"`
	Timezone  string   `yaml:"timezone"`
	Campaigns []string `yaml:"campaigns"`
}

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read fixture")
	}
	return ParseFixture(b)
}

func ParseFixture(b []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(b, &fx); err != nil {
		return nil, errors.Wrap(err, "parse fixture")
	}
	return &fx, nil
}

// Seed creates the fixture's rows together with the platform average user,
// one average user per group and the OVERALL indicator of each campaign.
func Seed(ctx context.Context, store *SQLStore, catalog *services.Catalog, fx *Fixture) error {
	now := time.Now().UTC()
	org := &models.Organization{ID: uuid.NewString(), Name: fx.Organization.Name, Slug: fx.Organization.Slug}
	if org.Slug == "" {
		org.Slug = "default"
	}
	if err := store.CreateOrganization(ctx, org); err != nil {
		return err
	}

	if _, err := store.FindUserByUsername(ctx, models.AverageUsername); services.IsNotFound(err) {
		avg := &models.User{ID: uuid.NewString(), Username: models.AverageUsername, IsSystemUser: true, CreatedAt: now}
		if err := store.CreateUser(ctx, avg); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	campaigns := map[string]string{}
	for _, cf := range fx.Campaigns {
		start, err := models.ParseDay(cf.Start)
		if err != nil {
			return errors.Wrapf(err, "campaign %s start", cf.Slug)
		}
		end, err := models.ParseDay(cf.End)
		if err != nil {
			return errors.Wrapf(err, "campaign %s end", cf.Slug)
		}
		c := &models.Campaign{
			ID: uuid.NewString(), OrganizationID: org.ID, Name: cf.Name, Slug: cf.Slug,
			StartDate: start, EndDate: end, IsFixedDates: cf.FixedDates,
		}
		if err := store.CreateCampaign(ctx, c); err != nil {
			return err
		}
		campaigns[cf.Slug] = c.ID
		for i, inf := range cf.Indicators {
			ind := &models.Indicator{
				ID:         uuid.NewString(),
				CampaignID: c.ID,
				Position:   null.IntFrom(i + 1),
				Name:       inf.Name,
				Question:   inf.Question,
				Scale: models.Scale{
					Kind:         models.ScaleKind(inf.Kind),
					Levels:       inf.Levels,
					RangeStart:   null.Float64FromPtr(inf.RangeStart),
					RangeEnd:     null.Float64FromPtr(inf.RangeEnd),
					Target:       null.Float64FromPtr(inf.Target),
					IsPercentage: inf.Percentage,
				},
				CreatedAt: now,
			}
			if err := catalog.AddIndicator(ctx, ind); err != nil {
				return errors.Wrapf(err, "indicator %s", inf.Name)
			}
		}
		if _, err := catalog.EnsureOverallIndicator(ctx, c.ID); err != nil {
			return err
		}
	}

	users := map[string]string{}
	for _, uf := range fx.Users {
		u := &models.User{ID: uuid.NewString(), OrganizationID: org.ID, Username: uf.Username, Timezone: uf.Timezone, CreatedAt: now}
		if err := store.CreateUser(ctx, u); err != nil {
			return errors.Wrapf(err, "user %s", uf.Username)
		}
		users[uf.Username] = u.ID
		for _, slug := range uf.Campaigns {
			cid, ok := campaigns[slug]
			if !ok {
				return errors.Errorf("user %s joins unknown campaign %s", uf.Username, slug)
			}
			if err := store.AddCampaignMember(ctx, cid, u.ID); err != nil {
				return err
			}
		}
	}

	for _, gf := range fx.Groups {
		avg := &models.User{
			ID: uuid.NewString(), OrganizationID: org.ID, Username: "avg-" + gf.Name,
			IsSystemUser: true, CreatedAt: now,
		}
		if err := store.CreateUser(ctx, avg); err != nil {
			return errors.Wrapf(err, "group %s average user", gf.Name)
		}
		g := &models.Group{ID: uuid.NewString(), OrganizationID: org.ID, Name: gf.Name, AvgUserID: avg.ID}
		if err := store.CreateGroup(ctx, g); err != nil {
			return err
		}
		for _, name := range gf.Members {
			uid, ok := users[name]
			if !ok {
				return errors.Errorf("group %s has unknown member %s", gf.Name, name)
			}
			if err := store.AddGroupMember(ctx, g.ID, uid); err != nil {
				return err
			}
		}
	}
	return nil
}
