package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// DiscreteHandler adapts an on/off action to a Handler using the 0.5
// threshold.
func DiscreteHandler(fn func(ctx context.Context, dev registry.View, on bool) error) Handler {
	return func(ctx context.Context, dev registry.View, cmd iopoint.Command) error {
		return fn(ctx, dev, valuemap.Discrete(cmd.Value))
	}
}

// TriStateActions are the three transport actions of a player.
type TriStateActions struct {
	Stop  func(ctx context.Context, dev registry.View) error
	Pause func(ctx context.Context, dev registry.View) error
	Play  func(ctx context.Context, dev registry.View) error
}

// TriStateHandler classifies the command value into stop, pause or play and
// runs the matching action.
func TriStateHandler(a TriStateActions) Handler {
	return func(ctx context.Context, dev registry.View, cmd iopoint.Command) error {
		state := valuemap.ClassifyTriState(cmd.Value)
		var fn func(context.Context, registry.View) error
		switch state {
		case valuemap.Stop:
			fn = a.Stop
		case valuemap.Pause:
			fn = a.Pause
		default:
			fn = a.Play
		}
		if fn == nil {
			return fmt.Errorf("no %s action", state)
		}
		return fn(ctx, dev)
	}
}

// ForEach runs fn for every target listed by list, continuing past
// failures. It returns the joined errors.
func ForEach[T any](ctx context.Context, list func(ctx context.Context) ([]T, error), fn func(ctx context.Context, target T) error) error {
	targets, err := list(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, t := range targets {
		if err := fn(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
