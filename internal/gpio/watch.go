package gpio

import (
	"context"
	"sync"
)

// Edge is a level change on one pin.
type Edge struct {
	Pin   int
	Level Level
}

// WatchAll watches every pin and merges their edges onto one channel, so a
// single goroutine can consume a device's inputs in arrival order. The edge
// channel is closed once all watchers have returned; the first watcher
// error, if any, is sent on the error channel before that.
func WatchAll(ctx context.Context, pins ...Pin) (<-chan Edge, <-chan error) {
	edges := make(chan Edge, 64)
	errs := make(chan error, 1)

	var wg sync.WaitGroup
	for _, p := range pins {
		wg.Add(1)
		go func(p Pin) {
			defer wg.Done()
			err := p.Watch(ctx, func(level Level) {
				select {
				case edges <- Edge{Pin: p.Number(), Level: level}:
				case <-ctx.Done():
				}
			})
			if err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}(p)
	}

	go func() {
		wg.Wait()
		close(edges)
	}()
	return edges, errs
}
