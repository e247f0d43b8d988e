package alert

import "context"

// DefaultLatestLimit is the number of alerts returned when no limit is given.
const DefaultLatestLimit = 5

// Store is the persistence interface for organizations and alerts.
type Store interface {
	OrganizationByKey(ctx context.Context, orgKey string) (*Organization, bool, error)

	// InsertAlert is idempotent on AlertID. inserted is false when a row
	// with the same AlertID already exists; the existing row is left as is.
	InsertAlert(ctx context.Context, a *Alert) (inserted bool, err error)

	// LatestAlerts returns up to limit alerts for orgKey, newest first.
	LatestAlerts(ctx context.Context, orgKey string, limit int) ([]*Alert, error)

	// AlertForOrg returns the alert only if it belongs to orgKey.
	AlertForOrg(ctx context.Context, orgKey, alertID string) (*Alert, bool, error)
}
