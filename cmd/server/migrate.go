package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/soaringjerry/goodenergy/internal/app"
	"github.com/soaringjerry/goodenergy/internal/services"
)

// prepareDatabase seeds an empty database and makes sure every campaign has
// its OVERALL indicator. Migrations have already run in app.New.
func prepareDatabase(ctx context.Context, a *app.App) error {
	if err := a.SeedIfEmpty(ctx); err != nil {
		return errors.Wrap(err, "seed")
	}
	campaigns, err := a.Store.ListCampaigns(ctx)
	if err != nil {
		return errors.Wrap(err, "list campaigns")
	}
	for _, c := range campaigns {
		if _, err := a.Catalog.EnsureOverallIndicator(ctx, c.ID); err != nil {
			return errors.Wrapf(err, "overall indicator for %s", c.Slug)
		}
	}
	if _, err := a.Catalog.AverageUser(ctx); err != nil {
		if services.IsConfigurationError(err) {
			a.Log.Warn("no AVERAGE user yet, averages cannot be stored until one exists")
			return nil
		}
		return err
	}
	return nil
}
