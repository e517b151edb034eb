package checkout

import (
	"context"
	"errors"
	"time"

	platformerrors "velofood-client-go/internal/platform/errors"

	"velofood-client-go/internal/api"
	"velofood-client-go/internal/domain/eventbus"
)

var (
	errAddressNotPrecise     = errors.New("address is not precise enough")
	errAddressNotDeliverable = errors.New("restaurant does not deliver to this address")
)

// fetchValidation refreshes the timing estimate and runs the server-side
// cart validation, publishing both results. Calls inside the throttle window
// are dropped; an empty cart needs no validation.
func (o *Orchestrator) fetchValidation(ctx context.Context) {
	o.mu.Lock()
	if o.cart.Empty() {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(o.lastValidation) < o.throttle {
		o.mu.Unlock()
		return
	}
	o.lastValidation = now
	cartID := o.cart.ID
	o.mu.Unlock()

	client := o.http(ctx)
	o.bus.Publish(eventbus.EventCheckoutLoading, true)

	if timing, err := client.Get(ctx, cartID+"/timing"); err == nil {
		o.bus.Publish(eventbus.EventTimingUpdated, timing)
	}

	if _, err := client.Get(ctx, cartID+"/validate"); err != nil {
		o.bus.Publish(eventbus.EventCartValidated, validationResult(err))
	} else {
		o.bus.Publish(eventbus.EventCartValidated, eventbus.ValidationEventData{IsValid: true})
	}

	o.bus.Publish(eventbus.EventCheckoutLoading, false)
}

// validationResult maps a validation failure to subscriber-facing data.
// Constraint violations carry their individual messages; anything else is a
// generic try-later.
func validationResult(err error) eventbus.ValidationEventData {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && platformerrors.IsKind(err, platformerrors.KindClient) {
		if violations := apiErr.Body.Violations(); len(violations) > 0 {
			return eventbus.ValidationEventData{IsValid: false, Violations: violations}
		}
	}
	return eventbus.ValidationEventData{
		IsValid:    false,
		Violations: []string{"please try again later"},
	}
}
