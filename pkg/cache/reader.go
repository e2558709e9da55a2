package cache

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/porthorian/orgauthz/pkg/storage"
)

const DefaultGroupOwnerTTL = 10 * time.Minute

// Reader serves GroupOrganization from a cache and every other read from
// the wrapped store. Cache failures fall back to the store.
type Reader struct {
	storage.MembershipReader

	cache  GroupOwnerCache
	ttl    time.Duration
	logger logr.Logger
}

var _ storage.MembershipReader = (*Reader)(nil)

func NewReader(reader storage.MembershipReader, groupOwners GroupOwnerCache, ttl time.Duration, logger logr.Logger) *Reader {
	if ttl <= 0 {
		ttl = DefaultGroupOwnerTTL
	}
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Reader{
		MembershipReader: reader,
		cache:            groupOwners,
		ttl:              ttl,
		logger:           logger,
	}
}

func (r *Reader) GroupOrganization(ctx context.Context, groupID int64) (int64, error) {
	if r.cache == nil {
		return r.MembershipReader.GroupOrganization(ctx, groupID)
	}

	organizationID, ok, err := r.cache.GetGroupOrganization(ctx, groupID)
	if err != nil {
		r.logger.V(1).Info("group owner cache read failed", "group_id", groupID, "error", err.Error())
	}
	if ok {
		return organizationID, nil
	}

	organizationID, err = r.MembershipReader.GroupOrganization(ctx, groupID)
	if err != nil {
		return 0, err
	}

	if err := r.cache.SetGroupOrganization(ctx, groupID, organizationID, r.ttl); err != nil {
		r.logger.V(1).Info("group owner cache write failed", "group_id", groupID, "error", err.Error())
	}
	return organizationID, nil
}
