package memory

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/porthorian/orgauthz/pkg/cache"
)

const DefaultSize = 4096

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
)

type entry struct {
	organizationID int64
	expires        time.Time
}

// Adapter is a bounded LRU. The LRU applies its own maximum age; each entry
// also carries the ttl it was written with.
type Adapter struct {
	entries *lru.LRU[int64, entry]
	now     func() time.Time
}

var _ cache.GroupOwnerCache = (*Adapter)(nil)

func NewAdapter(size int, maxAge time.Duration) *Adapter {
	if size <= 0 {
		size = DefaultSize
	}
	if maxAge <= 0 {
		maxAge = cache.DefaultGroupOwnerTTL
	}
	return &Adapter{
		entries: lru.NewLRU[int64, entry](size, nil, maxAge),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *Adapter) SetGroupOrganization(ctx context.Context, groupID int64, organizationID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	a.entries.Add(groupID, entry{
		organizationID: organizationID,
		expires:        a.now().Add(ttl),
	})
	return nil
}

func (a *Adapter) GetGroupOrganization(ctx context.Context, groupID int64) (int64, bool, error) {
	e, ok := a.entries.Get(groupID)
	if !ok {
		return 0, false, nil
	}

	if a.now().After(e.expires) {
		a.entries.Remove(groupID)
		return 0, false, nil
	}
	return e.organizationID, true, nil
}

func (a *Adapter) DeleteGroupOrganization(ctx context.Context, groupID int64) error {
	a.entries.Remove(groupID)
	return nil
}

func (a *Adapter) Len() int {
	return a.entries.Len()
}
