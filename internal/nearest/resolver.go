package nearest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

const tracerName = "github.com/keithlinneman/linnemanlabs-menu/internal/nearest"

// RequestContext supplies the path of the content being requested.
type RequestContext interface {
	CurrentPath() contentpath.Path
}

// ContentStore answers existence and lookup queries by path.
// GetByPath is only called for paths Exists reported true.
type ContentStore interface {
	Exists(ctx context.Context, p contentpath.Path) (bool, error)
	GetByPath(ctx context.Context, p contentpath.Path) (content.Item, error)
}

// FixedPath is a RequestContext for a path known up front.
type FixedPath contentpath.Path

func (f FixedPath) CurrentPath() contentpath.Path { return contentpath.Path(f) }

type Outcome string

const (
	OutcomeExact    Outcome = "exact"
	OutcomeAncestor Outcome = "ancestor"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// Observer receives one call per Resolve. depth is the element count of the
// resolved path, 0 when nothing was found.
type Observer interface {
	ObserveResolution(outcome Outcome, depth int)
}

type Options struct {
	Observer Observer
	Tracer   trace.Tracer
}

// Resolver resolves the nearest existing content for one request.
type Resolver struct {
	req    RequestContext
	store  ContentStore
	obs    Observer
	tracer trace.Tracer
}

func New(req RequestContext, store ContentStore, opts Options) *Resolver {
	tr := opts.Tracer
	if tr == nil {
		tr = otel.Tracer(tracerName)
	}
	return &Resolver{req: req, store: store, obs: opts.Observer, tracer: tr}
}

// Resolve returns the content at the requested path if it exists. Otherwise it
// walks from the root one segment at a time and returns the deepest existing
// ancestor, stopping at the first segment that does not exist. found is false
// when neither the path nor its first segment exists.
//
// Store errors are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context) (item content.Item, found bool, err error) {
	requested := r.req.CurrentPath()

	ctx, span := r.tracer.Start(ctx, "nearest.resolve",
		trace.WithAttributes(attribute.String("content.requested_path", requested.String())),
	)
	defer span.End()

	item, outcome, probes, err := r.resolve(ctx, requested)
	found = outcome == OutcomeExact || outcome == OutcomeAncestor

	span.SetAttributes(
		attribute.String("nearest.outcome", string(outcome)),
		attribute.Int("nearest.probes", probes),
	)
	depth := 0
	if found {
		depth = item.Path.ElementCount()
		span.SetAttributes(attribute.String("content.resolved_path", item.Path.String()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "content store failed")
	}
	if r.obs != nil {
		r.obs.ObserveResolution(outcome, depth)
	}

	log.FromContext(ctx).Debug(ctx, "nearest content resolved",
		"requested", requested.String(),
		"outcome", string(outcome),
		"depth", depth,
		"probes", probes,
	)

	return item, found, err
}

// resolve does the lookups. probes counts Exists calls.
func (r *Resolver) resolve(ctx context.Context, requested contentpath.Path) (content.Item, Outcome, int, error) {
	probes := 1
	ok, err := r.store.Exists(ctx, requested)
	if err != nil {
		return content.Item{}, OutcomeError, probes, err
	}
	if ok {
		it, err := r.store.GetByPath(ctx, requested)
		if err != nil {
			return content.Item{}, OutcomeError, probes, err
		}
		return it, OutcomeExact, probes, nil
	}

	var best content.Item
	found := false
	prefix := contentpath.Root
	for i := 0; i < requested.ElementCount(); i++ {
		candidate := contentpath.Append(prefix, requested.Element(i))
		probes++
		ok, err := r.store.Exists(ctx, candidate)
		if err != nil {
			return content.Item{}, OutcomeError, probes, err
		}
		if !ok {
			break
		}
		best, err = r.store.GetByPath(ctx, candidate)
		if err != nil {
			return content.Item{}, OutcomeError, probes, err
		}
		found = true
		prefix = candidate
	}

	if !found {
		return content.Item{}, OutcomeNotFound, probes, nil
	}
	return best, OutcomeAncestor, probes, nil
}
