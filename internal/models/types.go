package models

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// ScaleKind tags the indicator answer scale.
type ScaleKind string

const (
	ScaleLikert  ScaleKind = "likert"
	ScaleNumeric ScaleKind = "number"
)

// OverallIndicatorName names the synthetic per-campaign overall indicator.
const OverallIndicatorName = "OVERALL"

// AverageUsername is the username of the platform-wide average user.
const AverageUsername = "AVERAGE"

// Level is one ordered option of a Likert scale.
type Level struct {
	Position int    `json:"position" yaml:"position"`
	Label    string `json:"label" yaml:"label"`
}

// Scale is a tagged union over the supported answer scales. Levels is only
// meaningful for ScaleLikert; RangeStart, RangeEnd, Target and IsPercentage
// only for ScaleNumeric.
type Scale struct {
	Kind         ScaleKind
	Levels       []Level
	RangeStart   null.Float64
	RangeEnd     null.Float64
	Target       null.Float64
	IsPercentage bool
}

// Indicator is one daily question of a campaign.
type Indicator struct {
	ID          string
	CampaignID  string
	Position    null.Int
	Name        string
	Question    string
	Scale       Scale
	IsSynthetic bool
	CreatedAt   time.Time
}

// Answer fills the (user, indicator, day) slot. Skipped answers keep a null value.
type Answer struct {
	ID          string
	UserID      string
	IndicatorID string
	Day         time.Time
	Value       null.Float64
	IsSkip      bool
	CreatedAt   time.Time
}

// User is a campaign participant or a system average user.
type User struct {
	ID                  string
	OrganizationID      string
	Username            string
	IsSystemUser        bool
	Timezone            string
	ComparedToAverage   float64
	ParticipationPoints int
	CreatedAt           time.Time
}

// Location resolves the user's timezone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Organization owns campaigns, groups and users.
type Organization struct {
	ID   string
	Name string
	Slug string
}

// Group is a set of users with its own average user.
type Group struct {
	ID             string
	OrganizationID string
	Name           string
	AvgUserID      string
}

// Campaign is a time-boxed set of indicators.
type Campaign struct {
	ID             string
	OrganizationID string
	Name           string
	Slug           string
	StartDate      time.Time
	EndDate        time.Time
	IsFixedDates   bool
}

// DayCount is the number of answers recorded for a day.
type DayCount struct {
	Day   time.Time
	Count int
}

// DayLayout is the storage and wire layout of calendar days.
const DayLayout = "2006-01-02"

// DayOf truncates t to midnight UTC of its calendar date in t's location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, time.UTC)
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}
