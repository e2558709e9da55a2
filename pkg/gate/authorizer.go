// Package gate decides whether the acting user may run a protected
// operation. It composes the role resolver with the compiled policy and
// fails closed on any store or policy error.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/policy"
	"github.com/porthorian/orgauthz/pkg/resource"
	"github.com/porthorian/orgauthz/pkg/roles"
	"github.com/porthorian/orgauthz/pkg/telemetry"
)

const tracerName = "github.com/porthorian/orgauthz/pkg/gate"

// Gate labels used for metrics and spans.
const (
	GatePermission         = "permission"
	GateAppAdmin           = "app_admin"
	GateOrganizationMember = "organization_member"
	GateGroupMember        = "group_member"
)

// EngineSource hands out the compiled policy engine. *policy.Loader
// implements it.
type EngineSource interface {
	Engine(ctx context.Context) (*policy.Engine, error)
}

// Decision is the outcome of one permission evaluation. Subject is the token
// that matched and is empty on deny. Evaluated lists the tokens the user held.
type Decision struct {
	ID        string
	Allowed   bool
	Subject   string
	Resource  string
	Action    string
	Evaluated []string
}

type Authorizer struct {
	resolver *roles.Resolver
	engines  EngineSource
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   logr.Logger
}

type Option func(*Authorizer)

func WithLogger(logger logr.Logger) Option {
	return func(a *Authorizer) {
		if logger.GetSink() != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(a *Authorizer) {
		a.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(a *Authorizer) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

func NewAuthorizer(resolver *roles.Resolver, engines EngineSource, opts ...Option) *Authorizer {
	a := &Authorizer{
		resolver: resolver,
		engines:  engines,
		tracer:   otel.Tracer(tracerName),
		logger:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decide evaluates action on res for userID. A deny is a Decision with
// Allowed false and a nil error; errors are reserved for missing identity,
// store failures and an unavailable policy.
func (a *Authorizer) Decide(ctx context.Context, userID string, res string, action string) (Decision, error) {
	decision := Decision{
		ID:       uuid.NewString(),
		Resource: res,
		Action:   action,
	}
	if userID == "" {
		return decision, oerrors.Unauthenticated()
	}
	if a == nil || a.resolver == nil || a.engines == nil {
		return decision, oerrors.ErrMissingStore
	}

	ctx, span := a.tracer.Start(ctx, "orgauthz.Decide", trace.WithAttributes(
		attribute.String("orgauthz.decision_id", decision.ID),
		attribute.String("orgauthz.resource", res),
		attribute.String("orgauthz.action", action),
	))
	defer span.End()

	engine, err := a.engines.Engine(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy unavailable")
		a.logger.Error(err, "policy engine unavailable", "decision_id", decision.ID)
		return decision, oerrors.Wrap(oerrors.CodeInvalidPolicy, "policy unavailable", err)
	}

	subjects, err := a.resolver.SubjectsFor(ctx, userID, resource.Decode(res))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "role resolution failed")
		return decision, a.storeFailure(err, decision.ID)
	}

	decision.Evaluated = subjects.Slice()
	for _, subject := range decision.Evaluated {
		if engine.Enforce(subject, res, action) {
			decision.Allowed = true
			decision.Subject = subject
			break
		}
	}

	span.SetAttributes(
		attribute.Bool("orgauthz.allowed", decision.Allowed),
		attribute.Int("orgauthz.subjects", len(decision.Evaluated)),
	)
	a.logger.V(1).Info("evaluated permission",
		"decision_id", decision.ID,
		"user_id", userID,
		"resource", res,
		"action", action,
		"allowed", decision.Allowed,
		"subject", decision.Subject,
		"evaluated", decision.Evaluated,
	)
	return decision, nil
}

// Check authorizes the actor carried by ctx.
func (a *Authorizer) Check(ctx context.Context, res string, action string) error {
	started := time.Now()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		a.observe(GatePermission, telemetry.OutcomeAnonymous, started)
		return oerrors.Unauthenticated()
	}

	decision, err := a.Decide(ctx, actor.UserID, res, action)
	if err != nil {
		a.observe(GatePermission, telemetry.OutcomeError, started)
		return err
	}
	if !decision.Allowed {
		a.observe(GatePermission, telemetry.OutcomeDeny, started)
		return oerrors.PermissionDenied()
	}
	a.observe(GatePermission, telemetry.OutcomeAllow, started)
	return nil
}

// CheckAppAdmin allows only application administrators. The policy engine is
// not consulted.
func (a *Authorizer) CheckAppAdmin(ctx context.Context) error {
	return a.checkMembership(ctx, GateAppAdmin, func(context.Context, string) (bool, error) {
		return false, nil
	})
}

// CheckOrganizationMember allows application administrators and active
// members of organizationID in any role.
func (a *Authorizer) CheckOrganizationMember(ctx context.Context, organizationID int64) error {
	return a.checkMembership(ctx, GateOrganizationMember, func(ctx context.Context, userID string) (bool, error) {
		role, err := a.resolver.ActiveOrganizationRole(ctx, userID, organizationID)
		return role != "", err
	})
}

// CheckGroupMember allows application administrators and active members of
// groupID in any role.
func (a *Authorizer) CheckGroupMember(ctx context.Context, groupID int64) error {
	return a.checkMembership(ctx, GateGroupMember, func(ctx context.Context, userID string) (bool, error) {
		role, err := a.resolver.ActiveGroupRole(ctx, userID, groupID)
		return role != "", err
	})
}

func (a *Authorizer) checkMembership(ctx context.Context, gate string, member func(context.Context, string) (bool, error)) error {
	started := time.Now()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		a.observe(gate, telemetry.OutcomeAnonymous, started)
		return oerrors.Unauthenticated()
	}
	if a == nil || a.resolver == nil {
		return oerrors.ErrMissingStore
	}

	ctx, span := a.tracer.Start(ctx, "orgauthz.Check", trace.WithAttributes(attribute.String("orgauthz.gate", gate)))
	defer span.End()

	admin, err := a.resolver.IsAppAdmin(ctx, actor.UserID)
	if err == nil && !admin {
		admin, err = member(ctx, actor.UserID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "role resolution failed")
		a.observe(gate, telemetry.OutcomeError, started)
		return a.storeFailure(err, "")
	}

	span.SetAttributes(attribute.Bool("orgauthz.allowed", admin))
	if !admin {
		a.logger.V(1).Info("denied membership gate", "gate", gate, "user_id", actor.UserID)
		a.observe(gate, telemetry.OutcomeDeny, started)
		return oerrors.PermissionDenied()
	}
	a.observe(gate, telemetry.OutcomeAllow, started)
	return nil
}

func (a *Authorizer) storeFailure(err error, decisionID string) error {
	var storeErr *roles.StoreError
	if errors.As(err, &storeErr) {
		a.metrics.ObserveStoreError(storeErr.Operation)
	}
	a.logger.Error(err, "membership store failed", "decision_id", decisionID)
	return oerrors.StorageUnavailable(err)
}

func (a *Authorizer) observe(gate string, outcome string, started time.Time) {
	if a == nil {
		return
	}
	a.metrics.ObserveDecision(gate, outcome, time.Since(started))
}
