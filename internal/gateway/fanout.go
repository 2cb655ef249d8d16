package gateway

import (
	"context"

	"golang.org/x/sync/errgroup"

	"docgate/internal/security"
	"docgate/internal/source"
)

// ProfileResult is the outcome of one audience in TransformAll. Exactly one
// of Result and Err is set.
type ProfileResult struct {
	Profile string
	Result  *Result
	Err     error
}

// TransformAll transforms docs once per profile, running up to the
// configured number of profiles concurrently. A failure for one profile
// does not cancel the others. Results keep the order of profiles.
func (g *Gateway) TransformAll(ctx context.Context, docs []source.Document, instruction string, profiles []security.Profile) []ProfileResult {
	results := make([]ProfileResult, len(profiles))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, p := range profiles {
		eg.Go(func() error {
			res, err := g.Transform(ctx, Request{
				Documents:   docs,
				Instruction: instruction,
				Profile:     p,
			})
			results[i] = ProfileResult{Profile: p.Name, Result: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
