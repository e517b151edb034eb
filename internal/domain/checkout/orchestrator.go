package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"velofood-client-go/internal/api"
	"velofood-client-go/internal/domain/eventbus"
	"velofood-client-go/internal/domain/queue"
	"velofood-client-go/internal/platform/logging"
)

const logTag = "CHECKOUT"

// Queue names. Item additions append server-side and do not race cart-level
// PUTs, so they get their own lane; everything that rewrites cart fields
// shares one.
const (
	queueAddItem    = "ADD_ITEM"
	queueUpdateCart = "UPDATE_CART"
)

// SessionHeader carries the guest cart session token on customer
// assignment.
const SessionHeader = "X-Session"

// ItemSelection is a product choice to add to the cart.
type ItemSelection struct {
	Product  string   `json:"product"`
	Quantity int      `json:"quantity"`
	Options  []string `json:"options"`
}

// Options tunes the orchestrator's timing windows.
type Options struct {
	// QuantityDebounce is the quiet period coalescing rapid quantity taps
	// into one PUT.
	QuantityDebounce time.Duration
	// ValidationThrottle is the minimum interval between validation
	// round-trips.
	ValidationThrottle time.Duration
	Logger             *logging.Logger
}

// Orchestrator translates user intents into queued cart mutations with the
// correct address and validation preconditions, and reconciles the local
// cart copy from server responses in queue-completion order. Outcomes are
// published on the event bus.
type Orchestrator struct {
	client   *api.Client
	queues   *queue.Manager
	bus      eventbus.Bus
	logger   *logging.Logger
	deliver  singleflight.Group
	debounce time.Duration
	throttle time.Duration

	mu           sync.Mutex
	cart         Cart
	sessionToken string
	address      *Address
	// addressOK is nil while the current address has not been checked
	// against the restaurant's delivery zone.
	addressOK *bool
	// listeners fire once when the address settles; each re-invokes a
	// suspended intent.
	listeners      []func()
	stale          bool
	syncTimers     map[int64]*time.Timer
	lastValidation time.Time
}

// New builds an orchestrator around an authenticated client and an event
// bus. The orchestrator owns its queue manager.
func New(client *api.Client, bus eventbus.Bus, opts Options) *Orchestrator {
	if opts.QuantityDebounce <= 0 {
		opts.QuantityDebounce = 350 * time.Millisecond
	}
	if opts.ValidationThrottle <= 0 {
		opts.ValidationThrottle = 500 * time.Millisecond
	}
	return &Orchestrator{
		client:     client,
		queues:     queue.NewManager(opts.Logger),
		bus:        bus,
		logger:     opts.Logger,
		debounce:   opts.QuantityDebounce,
		throttle:   opts.ValidationThrottle,
		syncTimers: make(map[int64]*time.Timer),
	}
}

// Close stops pending debounce timers and drains the queues.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for id, timer := range o.syncTimers {
		timer.Stop()
		delete(o.syncTimers, id)
	}
	o.mu.Unlock()
	o.queues.Close()
}

// AttachSession installs a freshly started guest cart session.
func (o *Orchestrator) AttachSession(cart api.Document, token string) {
	o.mu.Lock()
	o.cart = cartFromDocument(cart)
	o.sessionToken = token
	o.stale = false
	o.mu.Unlock()
}

// Cart returns the current local cart copy. The snapshot's Items do not
// share memory with the live cart, so later mutations never show through.
func (o *Orchestrator) Cart() Cart {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cart.clone()
}

// Stale reports whether a queued mutation failed since the last successful
// reconciliation; the cart should be reloaded before further mutations.
func (o *Orchestrator) Stale() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stale
}

// Reload refetches the authoritative cart.
func (o *Orchestrator) Reload(ctx context.Context) error {
	o.mu.Lock()
	cartID := o.cart.ID
	o.mu.Unlock()

	doc, err := o.http(ctx).Get(ctx, cartID)
	if err != nil {
		return err
	}
	o.applyCart(doc)
	return nil
}

// AddItem adds a product to the cart. With delivery fulfillment the shipping
// address must first be confirmed deliverable: a missing address suspends
// the intent behind an address prompt, an unchecked one is validated against
// the restaurant's zone, and in both cases the whole intent re-runs from the
// top once the address settles. Only then is the network POST queued.
func (o *Orchestrator) AddItem(ctx context.Context, sel ItemSelection) error {
	if sel.Quantity <= 0 {
		sel.Quantity = 1
	}

	o.mu.Lock()
	method := o.cart.fulfillment()
	address := o.address
	addressOK := o.addressOK
	o.mu.Unlock()

	if method == FulfillmentDelivery && (address == nil || addressOK == nil || !*addressOK) {
		if address == nil {
			o.replaceListeners(func() { o.AddItem(ctx, sel) })
			o.bus.Publish(eventbus.EventAddressRequired, eventbus.AddressEventData{
				Message: "please enter a delivery address",
			})
			return nil
		}

		if addressOK == nil {
			if err := o.validateAddress(ctx, *address); err != nil {
				o.setAddressOK(false)
				o.replaceListeners(func() { o.AddItem(ctx, sel) })
				o.bus.Publish(eventbus.EventAddressRejected, eventbus.AddressEventData{
					Message: err.Error(),
				})
				return nil
			}
			o.setAddressOK(true)
			o.addListener(func() { o.AddItem(ctx, sel) })
			return o.queueSyncAddress()
		}

		// Address known bad; the corrected one re-triggers via the
		// registered listener.
		o.bus.Publish(eventbus.EventAddressRequired, eventbus.AddressEventData{})
		return nil
	}

	return o.queues.Enqueue(queueAddItem, func(next func()) {
		go func() {
			defer next()

			o.mu.Lock()
			cartID := o.cart.ID
			o.mu.Unlock()

			ctx := context.Background()
			o.bus.Publish(eventbus.EventCheckoutLoading, true)
			doc, err := o.http(ctx).Post(ctx, cartID+"/items", sel)
			o.bus.Publish(eventbus.EventCheckoutLoading, false)
			if err != nil {
				o.logger.WarnTag(logTag, "add item failed", "error", err)
				o.expireSession()
				return
			}
			o.applyCart(doc)
		}()
	})
}

// IncrementItem bumps a line's quantity optimistically and schedules the
// debounced server sync.
func (o *Orchestrator) IncrementItem(id int64) {
	o.changeQuantity(id, +1)
}

// DecrementItem lowers a line's quantity optimistically and schedules the
// debounced server sync.
func (o *Orchestrator) DecrementItem(id int64) {
	o.changeQuantity(id, -1)
}

func (o *Orchestrator) changeQuantity(id int64, delta int) {
	o.mu.Lock()
	for i := range o.cart.Items {
		if o.cart.Items[i].ID == id {
			o.cart.Items[i].Quantity += delta
			break
		}
	}
	cart := o.cart.clone()
	o.mu.Unlock()

	o.bus.Publish(eventbus.EventCartUpdated, cart)
	o.scheduleItemSync(id)
}

// scheduleItemSync (re)arms the per-item debounce timer. Rapid taps keep
// pushing the deadline; the eventual PUT carries whatever quantity the local
// state holds when the timer fires.
func (o *Orchestrator) scheduleItemSync(id int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if timer, ok := o.syncTimers[id]; ok {
		timer.Stop()
	}
	o.syncTimers[id] = time.AfterFunc(o.debounce, func() {
		o.mu.Lock()
		delete(o.syncTimers, id)
		o.mu.Unlock()
		o.queueSyncItem(id)
	})
}

// queueSyncItem puts the item's current quantity on the cart-mutation lane.
func (o *Orchestrator) queueSyncItem(id int64) {
	err := o.queues.Enqueue(queueUpdateCart, func(next func()) {
		go func() {
			defer next()

			o.mu.Lock()
			cartID := o.cart.ID
			item, ok := o.cart.Item(id)
			o.mu.Unlock()
			if !ok {
				// Removed while the debounce was pending.
				return
			}

			ctx := context.Background()
			o.bus.Publish(eventbus.EventCheckoutLoading, true)
			doc, err := o.http(ctx).Put(ctx, itemURI(cartID, id), api.Document{
				"quantity": item.Quantity,
			})
			o.bus.Publish(eventbus.EventCheckoutLoading, false)
			if err != nil {
				o.logger.WarnTag(logTag, "quantity sync failed", "error", err)
				o.expireSession()
				return
			}
			o.applyCart(doc)
			o.fetchValidation(ctx)
		}()
	})
	if err != nil {
		o.logger.WarnTag(logTag, "quantity sync dropped", "error", err)
	}
}

// RemoveItem deletes a line optimistically and queues the server delete.
func (o *Orchestrator) RemoveItem(id int64) error {
	o.mu.Lock()
	kept := make([]Item, 0, len(o.cart.Items))
	for _, item := range o.cart.Items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	o.cart.Items = kept
	cart := o.cart.clone()
	o.mu.Unlock()

	o.bus.Publish(eventbus.EventCartUpdated, cart)

	return o.queues.Enqueue(queueUpdateCart, func(next func()) {
		go func() {
			defer next()

			o.mu.Lock()
			cartID := o.cart.ID
			o.mu.Unlock()

			ctx := context.Background()
			o.bus.Publish(eventbus.EventCheckoutLoading, true)
			doc, err := o.http(ctx).Delete(ctx, itemURI(cartID, id))
			o.bus.Publish(eventbus.EventCheckoutLoading, false)
			if err != nil {
				o.logger.WarnTag(logTag, "remove item failed", "error", err)
				o.expireSession()
				return
			}
			o.applyCart(doc)
			o.fetchValidation(ctx)
		}()
	})
}

// SetAddress validates an address against the current restaurant's delivery
// zone and, when accepted, syncs it to the cart. A rejection publishes the
// reason and leaves the previous address state untouched except for the
// validity flag.
func (o *Orchestrator) SetAddress(ctx context.Context, address Address) error {
	o.mu.Lock()
	hasRestaurant := o.cart.Restaurant != ""
	o.mu.Unlock()

	if !hasRestaurant {
		o.mu.Lock()
		o.address = &address
		o.addressOK = nil
		o.mu.Unlock()
		return nil
	}

	o.bus.Publish(eventbus.EventCheckoutLoading, true)
	err := o.validateAddress(ctx, address)
	o.bus.Publish(eventbus.EventCheckoutLoading, false)
	if err != nil {
		o.setAddressOK(false)
		o.bus.Publish(eventbus.EventAddressRejected, eventbus.AddressEventData{
			Message: err.Error(),
		})
		return nil
	}

	o.mu.Lock()
	o.address = &address
	ok := true
	o.addressOK = &ok
	o.mu.Unlock()

	o.bus.Publish(eventbus.EventAddressAccepted, eventbus.AddressEventData{})
	return o.queueSyncAddress()
}

// validateAddress runs the deliverability check. Identical coordinates
// in flight at the same time share one call.
func (o *Orchestrator) validateAddress(ctx context.Context, address Address) error {
	if !address.Precise {
		return errAddressNotPrecise
	}

	o.mu.Lock()
	restaurant := o.cart.Restaurant
	o.mu.Unlock()

	key := restaurant + "/" + address.coordinates()
	_, err, _ := o.deliver.Do(key, func() (any, error) {
		return o.http(ctx).Get(ctx, restaurant+"/can-deliver/"+address.coordinates(), api.Anonymous())
	})
	if err != nil {
		return errAddressNotDeliverable
	}
	return nil
}

// queueSyncAddress puts the address PUT on the cart-mutation lane. Once the
// server accepts it, suspended intents waiting on the address re-run.
func (o *Orchestrator) queueSyncAddress() error {
	return o.queues.Enqueue(queueUpdateCart, func(next func()) {
		go func() {
			defer next()

			o.mu.Lock()
			cartID := o.cart.ID
			address := o.address
			o.mu.Unlock()
			if address == nil {
				// Nothing to PUT, but suspended intents still get
				// their turn.
				o.notifyListeners()
				return
			}

			ctx := context.Background()
			o.bus.Publish(eventbus.EventCheckoutLoading, true)
			doc, err := o.http(ctx).Put(ctx, cartID, api.Document{
				"shippingAddress": address.document(),
			})
			o.bus.Publish(eventbus.EventCheckoutLoading, false)
			if err != nil {
				o.logger.WarnTag(logTag, "address sync failed", "error", err)
				o.expireSession()
				return
			}
			o.applyCart(doc)
			o.notifyListeners()
		}()
	})
}

// SetFulfillmentMethod switches between delivery and collection, refreshing
// the timing estimate. Switching to delivery without a shipping address
// prompts for one.
func (o *Orchestrator) SetFulfillmentMethod(ctx context.Context, method string) error {
	o.mu.Lock()
	cartID := o.cart.ID
	o.mu.Unlock()

	doc, err := o.http(ctx).Put(ctx, cartID, api.Document{"fulfillmentMethod": method})
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return err
	}

	timing, timingErr := o.http(ctx).Get(ctx, cartID+"/timing")
	if timingErr == nil {
		o.bus.Publish(eventbus.EventTimingUpdated, timing)
	}

	o.applyCart(doc)

	o.mu.Lock()
	needsAddress := method == FulfillmentDelivery && o.cart.ShippingAddress == nil && o.address == nil
	o.mu.Unlock()

	if needsAddress {
		o.bus.Publish(eventbus.EventAddressRequired, eventbus.AddressEventData{
			Message: "please enter a delivery address",
		})
	}
	if method == FulfillmentCollection {
		o.notifyListeners()
	}
	return nil
}

// SetShippingTimeRange pins the cart to a delivery slot.
func (o *Orchestrator) SetShippingTimeRange(ctx context.Context, timeRange string) error {
	return o.putCartField(ctx, api.Document{"shippingTimeRange": timeRange})
}

// SetShippingTimeASAP clears the delivery slot, back to "as soon as
// possible".
func (o *Orchestrator) SetShippingTimeASAP(ctx context.Context) error {
	return o.putCartField(ctx, api.Document{"shippingTimeRange": nil})
}

func (o *Orchestrator) putCartField(ctx context.Context, payload api.Document) error {
	o.mu.Lock()
	cartID := o.cart.ID
	o.mu.Unlock()

	doc, err := o.http(ctx).Put(ctx, cartID, payload)
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return err
	}
	o.applyCart(doc)
	o.bus.Publish(eventbus.EventCheckoutSucceeded, nil)
	return nil
}

// UpdateCart writes arbitrary cart fields. A telephone in the payload is
// stored on the customer resource instead: with collection fulfillment the
// phone number belongs to the user, not the cart.
func (o *Orchestrator) UpdateCart(ctx context.Context, payload api.Document) error {
	o.mu.Lock()
	cartID := o.cart.ID
	customer := o.cart.Customer
	current := o.cart.ShippingAddress
	o.mu.Unlock()

	if incoming, ok := payload["shippingAddress"].(map[string]any); ok && current != nil {
		merged := current.document()
		for k, v := range incoming {
			merged[k] = v
		}
		payload["shippingAddress"] = merged
	}

	if telephone, ok := payload["telephone"].(string); ok && telephone != "" && customer != "" {
		if _, err := o.http(ctx).Put(ctx, customer, api.Document{"telephone": telephone}); err != nil {
			o.bus.Publish(eventbus.EventCheckoutFailed, err)
			return err
		}
		delete(payload, "telephone")
	}

	doc, err := o.http(ctx).Put(ctx, cartID, payload)
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return err
	}
	o.applyCart(doc)
	o.bus.Publish(eventbus.EventCheckoutSucceeded, nil)
	return nil
}

// AssignCustomer binds the cart to the authenticated user, or to a guest
// identified by email and telephone. The guest session token rides along in
// a dedicated header so the backend can tie the cart to the session. A cart
// that already has a customer is left alone.
func (o *Orchestrator) AssignCustomer(ctx context.Context, email, telephone string) error {
	o.mu.Lock()
	cartID := o.cart.ID
	customer := o.cart.Customer
	token := o.sessionToken
	o.mu.Unlock()

	if customer != "" {
		return nil
	}

	body := api.Document{}
	if guest := !o.client.Credentials(ctx).Complete(); guest {
		body = api.Document{
			"guest":     true,
			"email":     email,
			"telephone": telephone,
		}
	}

	opts := []api.RequestOption{}
	if token != "" {
		opts = append(opts, api.WithHeader(SessionHeader, "Bearer "+token))
	}

	doc, err := o.http(ctx).Put(ctx, cartID+"/assign", body, opts...)
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return err
	}
	o.applyCart(doc)
	o.bus.Publish(eventbus.EventCheckoutSucceeded, nil)
	return nil
}

// Validate syncs the address first, then runs the throttled validation
// round-trip once the cart settles.
func (o *Orchestrator) Validate(ctx context.Context) error {
	o.replaceListeners(func() { o.fetchValidation(ctx) })
	return o.queueSyncAddress()
}

/// http picks the client for a call: the stored account when its token pair
// is complete, otherwise a clone bound to the guest session token.
func (o *Orchestrator) http(ctx context.Context) *api.Client {
	if o.client.Credentials(ctx).Complete() {
		return o.client
	}
	o.mu.Lock()
	token := o.sessionToken
	o.mu.Unlock()
	if token == "" {
		return o.client
	}
	return o.client.CloneWithSession(token)
}

// applyCart reconciles the local copy from a successful mutation response.
func (o *Orchestrator) applyCart(doc api.Document) {
	cart := cartFromDocument(doc)
	o.mu.Lock()
	o.cart = cart
	o.stale = false
	o.mu.Unlock()
	o.bus.Publish(eventbus.EventCartUpdated, cart.clone())
}

// expireSession marks the cart stale and tells subscribers the session needs
// attention. Queued mutations keep flowing; callers decide whether to
// re-login or just reload.
func (o *Orchestrator) expireSession() {
	o.mu.Lock()
	o.stale = true
	o.mu.Unlock()
	o.bus.Publish(eventbus.EventCartStale, nil)
	o.bus.Publish(eventbus.EventSessionExpired, nil)
}

func (o *Orchestrator) setAddressOK(ok bool) {
	o.mu.Lock()
	o.addressOK = &ok
	o.mu.Unlock()
}

// replaceListeners swaps the suspended-intent set for a single callback.
func (o *Orchestrator) replaceListeners(fn func()) {
	o.mu.Lock()
	o.listeners = []func(){fn}
	o.mu.Unlock()
}

func (o *Orchestrator) addListener(fn func()) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// notifyListeners drains the suspended-intent set exactly once.
func (o *Orchestrator) notifyListeners() {
	o.mu.Lock()
	listeners := o.listeners
	o.listeners = nil
	o.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func itemURI(cartID string, id int64) string {
	return fmt.Sprintf("%s/items/%d", cartID, id)
}
