package eventbus

// Checkout events. Subscribers receive the payload types below.
const (
	// Cart reconciliation
	EventCartUpdated = "cart:updated"
	EventCartStale   = "cart:stale"

	// Address preconditions
	EventAddressRequired = "address:required"
	EventAddressRejected = "address:rejected"
	EventAddressAccepted = "address:accepted"

	// Checkout progress
	EventCheckoutLoading   = "checkout:loading"
	EventCheckoutSucceeded = "checkout:succeeded"
	EventCheckoutFailed    = "checkout:failed"

	// Cart validation results
	EventCartValidated = "cart:validated"
	EventTimingUpdated = "cart:timing"

	// Session lifecycle
	EventSessionExpired = "session:expired"
)

// AddressEventData carries the reason an address is required or was rejected.
type AddressEventData struct {
	Message string `json:"message"`
}

// ValidationEventData carries the outcome of a cart validation round-trip.
type ValidationEventData struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations,omitempty"`
}
