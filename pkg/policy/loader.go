package policy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/porthorian/orgauthz/pkg/telemetry"
)

const (
	loadKey   = "load"
	reloadKey = "reload"
)

// Loader compiles the policy on first use and shares the result. Concurrent
// first callers wait on a single compilation; a failed compilation is not
// kept, so the next caller tries again.
type Loader struct {
	source  Source
	logger  logr.Logger
	metrics *telemetry.Metrics

	current      atomic.Pointer[Engine]
	group        singleflight.Group
	compilations atomic.Int64
}

type LoaderOption func(*Loader)

func WithLoaderLogger(logger logr.Logger) LoaderOption {
	return func(l *Loader) {
		if logger.GetSink() != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(metrics *telemetry.Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = metrics
	}
}

func NewLoader(source Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		source: source,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Engine returns the compiled engine, compiling it if needed. A canceled ctx
// stops the wait but not a compilation other callers share.
func (l *Loader) Engine(ctx context.Context) (*Engine, error) {
	if engine := l.current.Load(); engine != nil {
		return engine, nil
	}

	result := l.group.DoChan(loadKey, func() (any, error) {
		if engine := l.current.Load(); engine != nil {
			return engine, nil
		}
		return l.compile(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Engine), nil
	}
}

// Reload compiles the source again and swaps the engine in on success. On
// failure the previous engine stays active.
func (l *Loader) Reload(ctx context.Context) (*Engine, error) {
	value, err, _ := l.group.Do(reloadKey, func() (any, error) {
		return l.compile(ctx)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Engine), nil
}

// Compilations counts compile attempts, successful or not.
func (l *Loader) Compilations() int64 {
	return l.compilations.Load()
}

func (l *Loader) compile(ctx context.Context) (*Engine, error) {
	l.compilations.Add(1)

	if l.source == nil {
		err := fmt.Errorf("policy: source is nil")
		l.metrics.ObservePolicyCompilation(err, 0)
		return nil, err
	}

	p, err := l.source.Load(ctx)
	if err != nil {
		l.metrics.ObservePolicyCompilation(err, 0)
		l.logger.Error(err, "failed to load policy")
		return nil, err
	}

	engine, err := Compile(p, WithLogger(l.logger))
	if err != nil {
		l.metrics.ObservePolicyCompilation(err, 0)
		l.logger.Error(err, "failed to compile policy")
		return nil, err
	}

	l.current.Store(engine)
	l.metrics.ObservePolicyCompilation(nil, len(engine.rules))
	l.logger.Info("compiled policy", "rules", len(engine.rules), "superuser", engine.superuser)
	return engine, nil
}
