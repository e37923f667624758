package subscription

import (
	"context"
	"fmt"
	"sort"
	"time"

	"imhd2txt/pkg/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DestinationResolver translates destination stop ids into display
// names. *imhd.Client satisfies it; pass nil to skip resolution.
type DestinationResolver interface {
	DestinationNames(ctx context.Context, ids []int) (map[int]string, error)
}

// Estimates filters the cached batch for a platform down to the given
// route numbers and annotates each record with toffset, the number of
// seconds until its scheduled arrival. Only live ("online") records are
// returned. With a resolver, destination ids are translated to names in
// one batched lookup.
//
// Returns ErrNoData when no refresh has ever populated the platform.
func (s *Subscription) Estimates(ctx context.Context, platform string, routes []string, resolver DestinationResolver) ([]types.ArrivalEstimate, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.estimates",
		trace.WithAttributes(
			attribute.String("stop.platform", platform),
			attribute.StringSlice("routes", routes),
		),
	)
	defer span.End()

	s.mu.RLock()
	batch, ok := s.cache[platform]
	s.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("platform %s: %w", platform, ErrNoData)
		span.RecordError(err)
		return nil, err
	}

	wanted := make(map[string]bool, len(routes))
	for _, r := range routes {
		wanted[r] = true
	}

	now := float64(time.Now().UnixMilli()) / 1000

	var out []types.ArrivalEstimate
	for _, a := range batch.Tab {
		if !a.Live() {
			continue
		}
		if !wanted[a.Linka.String()] {
			continue
		}
		out = append(out, types.ArrivalEstimate{
			Arrival: a,
			TOffset: float64(a.Cas)/1000 - now,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Cas < out[j].Cas })

	if resolver != nil && len(out) > 0 {
		seen := make(map[int]bool)
		var ids []int
		for _, e := range out {
			if !seen[e.CielZastavka] {
				seen[e.CielZastavka] = true
				ids = append(ids, e.CielZastavka)
			}
		}

		names, err := resolver.DestinationNames(ctx, ids)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("resolving destinations: %w", err)
		}
		for i := range out {
			out[i].Destination = names[out[i].CielZastavka]
		}
	}

	span.SetAttributes(attribute.Int("arrivals.count", len(out)))
	return out, nil
}
