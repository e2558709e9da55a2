// Package orgauthz wires the workspace authorization engine: membership
// storage, the compiled policy, the role resolver, gates and the permission
// descriptor service.
package orgauthz

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/porthorian/orgauthz/pkg/cache"
	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/gate"
	"github.com/porthorian/orgauthz/pkg/permissions"
	"github.com/porthorian/orgauthz/pkg/policy"
	"github.com/porthorian/orgauthz/pkg/roles"
	"github.com/porthorian/orgauthz/pkg/storage"
	"github.com/porthorian/orgauthz/pkg/telemetry"
)

type Config struct {
	Store           storage.Store
	GroupOwnerCache cache.GroupOwnerCache
	Policy          policy.Source
	Logger          logr.Logger
	// Registerer receives the decision metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
	Runtime    RuntimeConfig
}

type Client struct {
	store       storage.Store
	loader      *policy.Loader
	resolver    *roles.Resolver
	authorizer  *gate.Authorizer
	describer   *permissions.Describer
	memberships *MembershipService
	logger      logr.Logger

	closeResource func() error
}

func New(config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	var metrics *telemetry.Metrics
	if resolvedConfig.Registerer != nil {
		metrics, err = telemetry.NewMetrics(resolvedConfig.Registerer)
		if err != nil {
			_ = closeResource()
			return nil, oerrors.Wrap(oerrors.CodeUnknown, "failed to register metrics", err)
		}
	}

	logger := resolvedConfig.Logger
	var reader storage.MembershipReader = resolvedConfig.Store
	if resolvedConfig.GroupOwnerCache != nil {
		reader = cache.NewReader(reader, resolvedConfig.GroupOwnerCache, resolvedConfig.Runtime.Cache.TTL, logger.WithName("cache"))
	}

	loader := policy.NewLoader(resolvedConfig.Policy,
		policy.WithLoaderLogger(logger.WithName("policy")),
		policy.WithMetrics(metrics),
	)
	resolver := roles.NewResolver(reader, logger.WithName("resolver"))

	return &Client{
		store:    resolvedConfig.Store,
		loader:   loader,
		resolver: resolver,
		authorizer: gate.NewAuthorizer(resolver, loader,
			gate.WithLogger(logger.WithName("authorizer")),
			gate.WithMetrics(metrics),
			gate.WithTracer(resolvedConfig.Tracer),
		),
		describer:     permissions.NewDescriber(reader, logger.WithName("permissions")),
		memberships:   NewMembershipService(resolvedConfig.Store, logger.WithName("memberships")),
		logger:        logger,
		closeResource: closeResource,
	}, nil
}

// Warm compiles the policy now instead of on the first check.
func (c *Client) Warm(ctx context.Context) error {
	if c == nil || c.loader == nil {
		return oerrors.ErrMissingPolicy
	}

	if _, err := c.loader.Engine(ctx); err != nil {
		return oerrors.Wrap(oerrors.CodeInvalidPolicy, "failed to compile policy", err)
	}
	return nil
}

// ReloadPolicy recompiles the policy source. The active policy is kept when
// the new one fails to compile.
func (c *Client) ReloadPolicy(ctx context.Context) error {
	if c == nil || c.loader == nil {
		return oerrors.ErrMissingPolicy
	}

	engine, err := c.loader.Reload(ctx)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeInvalidPolicy, "failed to reload policy", err)
	}
	c.logger.Info("reloaded policy", "rules", len(engine.Rules()))
	return nil
}

// Check authorizes userID for action on res.
func (c *Client) Check(ctx context.Context, userID string, res string, action string) error {
	if c == nil || c.authorizer == nil {
		return oerrors.ErrMissingStore
	}
	return c.authorizer.Check(gate.ContextWithActor(ctx, gate.Actor{UserID: userID}), res, action)
}

func (c *Client) Decide(ctx context.Context, userID string, res string, action string) (gate.Decision, error) {
	if c == nil || c.authorizer == nil {
		return gate.Decision{}, oerrors.ErrMissingStore
	}
	return c.authorizer.Decide(ctx, userID, res, action)
}

func (c *Client) Describe(ctx context.Context, userID string) (permissions.Descriptor, error) {
	if c == nil || c.describer == nil {
		return permissions.Descriptor{}, oerrors.ErrMissingStore
	}
	return c.describer.Describe(ctx, userID)
}

func (c *Client) Authorizer() *gate.Authorizer {
	return c.authorizer
}

func (c *Client) Describer() *permissions.Describer {
	return c.describer
}

func (c *Client) Memberships() *MembershipService {
	return c.memberships
}

func (c *Client) Store() storage.Store {
	return c.store
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.authorizer = nil
	c.describer = nil
	return nil
}
