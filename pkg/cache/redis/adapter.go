package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/porthorian/orgauthz/pkg/cache"
)

const defaultNamespace = "orgauthz"

var (
	ErrInvalidTTL = errors.New("redis cache: ttl must be greater than zero")
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type Adapter struct {
	client    *goredis.Client
	namespace string
}

var _ cache.GroupOwnerCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})
	return NewAdapterWithClient(client, config.Namespace)
}

func NewAdapterWithClient(client *goredis.Client, namespace string) *Adapter {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Adapter{client: client, namespace: namespace}
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) SetGroupOrganization(ctx context.Context, groupID int64, organizationID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return a.client.Set(ctx, a.key(groupID), organizationID, ttl).Err()
}

func (a *Adapter) GetGroupOrganization(ctx context.Context, groupID int64) (int64, bool, error) {
	organizationID, err := a.client.Get(ctx, a.key(groupID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return organizationID, true, nil
}

func (a *Adapter) DeleteGroupOrganization(ctx context.Context, groupID int64) error {
	return a.client.Del(ctx, a.key(groupID)).Err()
}

func (a *Adapter) key(groupID int64) string {
	return a.namespace + ":group-owner:" + strconv.FormatInt(groupID, 10)
}
