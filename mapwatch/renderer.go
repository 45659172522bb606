package mapwatch

import (
	"context"
	"fmt"
)

// pageRenderer adapts the injector to the overlay registry's Renderer
// interface for a single captured instance.
type pageRenderer struct {
	drv        driver
	instanceID string
}

// Update ships a serialised marker set into the page. A stale-revision
// drop is not an error: the overlay already renders something newer.
func (r *pageRenderer) Update(ctx context.Context, data []byte) error {
	_, err := r.drv.PushData(ctx, data)
	if err != nil {
		return fmt.Errorf("mapwatch: render %s: %w", r.instanceID, err)
	}
	return nil
}

// Teardown removes this instance's marker layer. Called once when the
// registry evicts the entry.
func (r *pageRenderer) Teardown(ctx context.Context) error {
	return r.drv.TeardownInstance(ctx, r.instanceID)
}
