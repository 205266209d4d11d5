package repositories

import (
	"context"
	"fmt"

	"github.com/trialbridge/portal/internal/database"
)

// SiteAccessRepository manages investigator site assignments. Row-level
// policies consume the same table, so grants here directly change what
// an investigator session can see.
type SiteAccessRepository struct{}

func NewSiteAccessRepository() *SiteAccessRepository {
	return &SiteAccessRepository{}
}

func (r *SiteAccessRepository) Grant(ctx context.Context, q database.Executor, userID, siteID string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO portal_user_site_access (user_id, site_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, site_id) DO NOTHING
	`, userID, siteID)
	return database.MapPostgresError(err)
}

func (r *SiteAccessRepository) Revoke(ctx context.Context, q database.Executor, userID, siteID string) error {
	_, err := q.Exec(ctx,
		`DELETE FROM portal_user_site_access WHERE user_id = $1 AND site_id = $2`,
		userID, siteID,
	)
	return database.MapPostgresError(err)
}

// HasAccess reports whether the user is assigned to the site
func (r *SiteAccessRepository) HasAccess(ctx context.Context, q database.Executor, userID, siteID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM portal_user_site_access WHERE user_id = $1 AND site_id = $2)`,
		userID, siteID,
	).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// ListSites returns the site IDs assigned to a user
func (r *SiteAccessRepository) ListSites(ctx context.Context, q database.Executor, userID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT site_id FROM portal_user_site_access WHERE user_id = $1 ORDER BY site_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query site access: %w", err)
	}
	defer rows.Close()

	sites := make([]string, 0)
	for rows.Next() {
		var siteID string
		if err := rows.Scan(&siteID); err != nil {
			return nil, database.MapPostgresError(err)
		}
		sites = append(sites, siteID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sites, nil
}
