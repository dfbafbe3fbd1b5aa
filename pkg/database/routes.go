package database

import (
	"context"
	"fmt"
	"time"

	"adaptive-proxy/pkg/models"
)

// LoadRoutes returns every stored route.
func (db *DB) LoadRoutes(ctx context.Context) ([]models.Route, error) {
	var routes []models.Route
	err := db.NewSelect().
		Model(&routes).
		Order("profile", "site").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading routes: %w", err)
	}
	return routes, nil
}

// UpsertRoute inserts the route or replaces the configuration and expiry of
// the existing (site, profile) row.
func (db *DB) UpsertRoute(ctx context.Context, route *models.Route) error {
	route.ValidUntil = route.ValidUntil.UTC()
	_, err := db.NewInsert().
		Model(route).
		On("CONFLICT (site, profile) DO UPDATE").
		Set("configuration = EXCLUDED.configuration").
		Set("valid_until = EXCLUDED.valid_until").
		Set("updated_at = CURRENT_TIMESTAMP").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error upserting route: %w", err)
	}
	return nil
}

// DeleteRoutesExpiredBefore removes routes whose expiry is before cutoff and
// returns how many were removed.
func (db *DB) DeleteRoutesExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.NewDelete().
		Model((*models.Route)(nil)).
		Where("valid_until < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("error deleting expired routes: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting deleted routes: %w", err)
	}
	return n, nil
}
