package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

// CatalogStore is the persistence needed by Catalog.
type CatalogStore interface {
	IndicatorStore
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Catalog caches indicator configuration and the platform average user.
// Values handed out are shared and must not be mutated by callers. Every
// write goes through Catalog so the affected campaign is invalidated.
type Catalog struct {
	store      CatalogStore
	indicators *lru.Cache[string, *models.Indicator]
	regular    *lru.Cache[string, []*models.Indicator]
	overall    *lru.Cache[string, *models.Indicator]

	mu      sync.Mutex
	avgUser *models.User
	now     func() time.Time
	newID   func() string
}

// NewCatalog builds a catalog holding at most size entries per cache.
func NewCatalog(store CatalogStore, size int) (*Catalog, error) {
	if size <= 0 {
		size = 256
	}
	indicators, err := lru.New[string, *models.Indicator](size)
	if err != nil {
		return nil, errors.Wrap(err, "indicator cache")
	}
	regular, err := lru.New[string, []*models.Indicator](size)
	if err != nil {
		return nil, errors.Wrap(err, "campaign cache")
	}
	overall, err := lru.New[string, *models.Indicator](size)
	if err != nil {
		return nil, errors.Wrap(err, "overall cache")
	}
	return &Catalog{
		store:      store,
		indicators: indicators,
		regular:    regular,
		overall:    overall,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      newID,
	}, nil
}

func (c *Catalog) Indicator(ctx context.Context, id string) (*models.Indicator, error) {
	if ind, ok := c.indicators.Get(id); ok {
		return ind, nil
	}
	ind, err := c.store.GetIndicator(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFoundError("indicator not found")
		}
		return nil, err
	}
	c.indicators.Add(id, ind)
	return ind, nil
}

// RegularIndicators lists the campaign's answerable indicators by position.
func (c *Catalog) RegularIndicators(ctx context.Context, campaignID string) ([]*models.Indicator, error) {
	if list, ok := c.regular.Get(campaignID); ok {
		return list, nil
	}
	list, err := c.store.ListRegularIndicators(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	c.regular.Add(campaignID, list)
	return list, nil
}

// OverallIndicator returns the campaign's synthetic OVERALL indicator.
func (c *Catalog) OverallIndicator(ctx context.Context, campaignID string) (*models.Indicator, error) {
	if ind, ok := c.overall.Get(campaignID); ok {
		return ind, nil
	}
	ind, err := c.store.FindOverallIndicator(ctx, campaignID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewConfigurationError(fmt.Sprintf("campaign %s has no overall indicator", campaignID))
		}
		return nil, err
	}
	c.overall.Add(campaignID, ind)
	return ind, nil
}

// EnsureOverallIndicator creates the OVERALL indicator (numeric 1..100) if missing.
func (c *Catalog) EnsureOverallIndicator(ctx context.Context, campaignID string) (*models.Indicator, error) {
	ind, err := c.store.FindOverallIndicator(ctx, campaignID)
	if err == nil {
		return ind, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	ind = &models.Indicator{
		ID:         c.newID(),
		CampaignID: campaignID,
		Name:       models.OverallIndicatorName,
		Question:   "Overall",
		Scale: models.Scale{
			Kind:       models.ScaleNumeric,
			RangeStart: null.Float64From(1),
			RangeEnd:   null.Float64From(100),
		},
		IsSynthetic: true,
		CreatedAt:   c.now(),
	}
	if err := c.AddIndicator(ctx, ind); err != nil {
		return nil, err
	}
	return ind, nil
}

// AddIndicator persists an indicator and drops the campaign's cached entries.
func (c *Catalog) AddIndicator(ctx context.Context, ind *models.Indicator) error {
	if err := c.store.CreateIndicator(ctx, ind); err != nil {
		return err
	}
	c.Invalidate(ind.CampaignID)
	return nil
}

// Invalidate forgets every cached entry of the campaign.
func (c *Catalog) Invalidate(campaignID string) {
	c.regular.Remove(campaignID)
	c.overall.Remove(campaignID)
	for _, id := range c.indicators.Keys() {
		if ind, ok := c.indicators.Peek(id); ok && ind.CampaignID == campaignID {
			c.indicators.Remove(id)
		}
	}
}

// AverageUser returns the platform-wide average user.
func (c *Catalog) AverageUser(ctx context.Context) (*models.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avgUser != nil {
		return c.avgUser, nil
	}
	u, err := c.store.FindUserByUsername(ctx, models.AverageUsername)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewConfigurationError("platform average user is missing")
		}
		return nil, err
	}
	c.avgUser = u
	return u, nil
}
