// Package aggregation turns a finished NPV cube into risk numbers: netted
// exposure, credit migration P&L distributions, dynamic initial margin, CVA
// spread sensitivities and VaR.
package aggregation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var (
	ErrSingular  = errors.New("matrix is singular")
	ErrNotBuilt  = errors.New("calculator has not been built")
	ErrNilInput  = errors.New("missing calculator input")
	ErrBadMatrix = errors.New("invalid matrix")
)

// Calculator is one aggregation step over a finished cube.
type Calculator interface {
	Kind() string
	Build(ctx context.Context) error
}

// RunAll builds independent calculators concurrently and returns the first error.
func RunAll(ctx context.Context, calcs ...Calculator) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range calcs {
		c := c
		g.Go(func() error {
			if err := c.Build(gctx); err != nil {
				return fmt.Errorf("%s: %w", c.Kind(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
