package admission

import (
	"context"
	"errors"
	"fmt"

	"table-status-backend/internal/geo"
)

var errNoPosition = errors.New("no position reported")

// Locator obtains the current position of the acting user. Locate may block; the
// controller bounds it with the configured location timeout.
type Locator interface {
	Locate(ctx context.Context) (geo.Position, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (geo.Position, error)

func (f LocatorFunc) Locate(ctx context.Context) (geo.Position, error) { return f(ctx) }

// ReportedPosition is a position the client measured itself and sent with the request.
// A nil position means the client could not obtain one.
func ReportedPosition(pos *geo.Position) Locator {
	return LocatorFunc(func(context.Context) (geo.Position, error) {
		if pos == nil {
			return geo.Position{}, errNoPosition
		}
		return *pos, nil
	})
}

type located struct {
	pos geo.Position
	err error
}

// locate runs l until it answers or ctx is done, whichever comes first.
func locate(ctx context.Context, l Locator) (geo.Position, error) {
	ch := make(chan located, 1)
	go func() {
		pos, err := l.Locate(ctx)
		ch <- located{pos, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return geo.Position{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, r.err)
		}
		return r.pos, nil
	case <-ctx.Done():
		return geo.Position{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ctx.Err())
	}
}
