package chat

import (
	"cmp"
	"context"
	"math"
	"slices"
)

// Named extremes of the order scale. They sort like any other value.
const (
	// OrderOutermost wraps every other interceptor.
	OrderOutermost = math.MinInt
	// OrderInnermost runs closest to the terminal continuation.
	OrderInnermost = math.MaxInt
)

// Next continues the chain.
type Next func(ctx context.Context, turn *Turn) error

// Interceptor wraps the rest of the chain. Lower orders enter earlier and
// leave later.
type Interceptor interface {
	Order() int
	Invoke(ctx context.Context, turn *Turn, next Next) error
}

type interceptorFunc struct {
	name  string
	order int
	fn    func(ctx context.Context, turn *Turn, next Next) error
}

func (f interceptorFunc) Order() int { return f.order }

func (f interceptorFunc) Invoke(ctx context.Context, turn *Turn, next Next) error {
	return f.fn(ctx, turn, next)
}

func (f interceptorFunc) String() string { return f.name }

// NewInterceptor adapts fn to an Interceptor. The name only shows up in logs.
func NewInterceptor(name string, order int, fn func(ctx context.Context, turn *Turn, next Next) error) Interceptor {
	return interceptorFunc{name: name, order: order, fn: fn}
}

// Compose sorts interceptors by order, keeping registration order among equal
// orders, and nests them into one callable. The continuation each interceptor
// receives returns the context error instead of descending once the turn is
// cancelled.
func Compose(interceptors []Interceptor) Next {
	sorted := slices.Clone(interceptors)
	slices.SortStableFunc(sorted, func(a, b Interceptor) int {
		return cmp.Compare(a.Order(), b.Order())
	})

	next := Next(func(context.Context, *Turn) error { return nil })
	for i := len(sorted) - 1; i >= 0; i-- {
		ic, inner := sorted[i], guard(next)
		next = func(ctx context.Context, turn *Turn) error {
			return ic.Invoke(ctx, turn, inner)
		}
	}
	return next
}

func guard(next Next) Next {
	return func(ctx context.Context, turn *Turn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return next(ctx, turn)
	}
}
