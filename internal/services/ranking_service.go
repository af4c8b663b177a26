package services

import (
	"context"

	"github.com/pkg/errors"
)

// Grades from best to worst.
var Grades = []string{"A+", "A", "B+", "B", "C+", "C"}

type Rank struct {
	Position int    `json:"position"`
	Total    int    `json:"total"`
	Grade    string `json:"grade"`
}

// RankingService places a user among the campaign members by compared-to-average.
type RankingService struct {
	store Store
}

func NewRankingService(store Store) *RankingService {
	return &RankingService{store: store}
}

// Rank is 1 plus the number of members strictly above the user, with a letter grade.
func (s *RankingService) Rank(ctx context.Context, campaignID, userID string) (*Rank, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		if IsNotFound(err) {
			return nil, NewNotFoundError("campaign not found")
		}
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFoundError("user not found")
		}
		return nil, err
	}
	above, err := s.store.CountCampaignMembersAbove(ctx, campaignID, u.ComparedToAverage)
	if err != nil {
		return nil, errors.Wrap(err, "count members above")
	}
	total, err := s.store.CountCampaignMembers(ctx, campaignID)
	if err != nil {
		return nil, errors.Wrap(err, "count members")
	}
	r := &Rank{Position: above + 1, Total: total}
	r.Grade = Grade(r.Position, total)
	return r, nil
}

// Grade maps a position out of total onto Grades.
func Grade(position, total int) string {
	if total <= 0 {
		return Grades[0]
	}
	idx := int(float64(position) / float64(total) * float64(len(Grades)))
	if idx > len(Grades)-1 {
		idx = len(Grades) - 1
	}
	return Grades[idx]
}
