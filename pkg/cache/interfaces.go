// Package cache holds caches for data that never changes once written.
// The only such data on the authorization path is the organization that
// owns a group; role sets are always read from the store.
package cache

import (
	"context"
	"time"
)

type GroupOwnerCache interface {
	SetGroupOrganization(ctx context.Context, groupID int64, organizationID int64, ttl time.Duration) error
	GetGroupOrganization(ctx context.Context, groupID int64) (int64, bool, error)
	DeleteGroupOrganization(ctx context.Context, groupID int64) error
}
