package checkout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"velofood-client-go/internal/api"
	"velofood-client-go/internal/domain/credentials"
	credstore "velofood-client-go/internal/domain/credentials/store"
	"velofood-client-go/internal/domain/eventbus"
)

const cartBody = `{
	"@id": "/api/orders/1",
	"restaurant": "/api/restaurants/7",
	"fulfillmentMethod": "delivery",
	"total": 1200,
	"itemsTotal": 1200,
	"items": [{"id": 5, "name": "Pizza", "quantity": 2, "total": 1200}]
}`

func authedClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	store := credstore.NewMemory()
	err := store.Save(context.Background(), credentials.Credentials{
		AccessToken:  "valid-token",
		RefreshToken: "valid-refresh",
		Username:     "bob",
		Email:        "bob@example.com",
		Enabled:      true,
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return api.NewClient(baseURL, store)
}

func newOrchestrator(t *testing.T, server *httptest.Server, opts Options) *Orchestrator {
	t.Helper()
	o := New(authedClient(t, server.URL), eventbus.New(), opts)
	t.Cleanup(o.Close)
	o.AttachSession(mustDocument(t, cartBody), "")
	return o
}

func mustDocument(t *testing.T, body string) api.Document {
	t.Helper()
	doc, err := decodeDocument(body)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return doc
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/ld+json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestAddItemQueuesPostWhenAddressValid(t *testing.T) {
	var posts int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		atomic.AddInt32(&posts, 1)
		respond(w, 201, cartBody)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	ok := true
	o.mu.Lock()
	o.address = &Address{StreetAddress: "1 Main St", Latitude: 48.85, Longitude: 2.35, Precise: true}
	o.addressOK = &ok
	o.mu.Unlock()

	updated := make(chan Cart, 1)
	o.bus.Subscribe(eventbus.EventCartUpdated, func(cart Cart) {
		select {
		case updated <- cart:
		default:
		}
	})

	if err := o.AddItem(context.Background(), ItemSelection{Product: "PIZZA", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("cart never reconciled")
	}
	if got := atomic.LoadInt32(&posts); got != 1 {
		t.Fatalf("expected one POST, got %d", got)
	}
}

func TestAddItemWithoutAddressPromptsAndRetries(t *testing.T) {
	var posts int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/restaurants/7/can-deliver/48.85,2.35", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, cartBody)
	})
	mux.HandleFunc("/api/orders/1/items", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		respond(w, 201, cartBody)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})

	prompted := make(chan eventbus.AddressEventData, 1)
	o.bus.Subscribe(eventbus.EventAddressRequired, func(data eventbus.AddressEventData) {
		select {
		case prompted <- data:
		default:
		}
	})

	// Delivery with no address: the intent suspends behind a prompt.
	if err := o.AddItem(context.Background(), ItemSelection{Product: "PIZZA"}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	select {
	case data := <-prompted:
		if data.Message == "" {
			t.Fatal("prompt carried no message")
		}
	case <-time.After(time.Second):
		t.Fatal("no address prompt")
	}
	if got := atomic.LoadInt32(&posts); got != 0 {
		t.Fatalf("item posted before address settled")
	}

	// Providing a deliverable address re-runs the suspended intent.
	err := o.SetAddress(context.Background(), Address{
		StreetAddress: "1 Main St", Latitude: 48.85, Longitude: 2.35, Precise: true,
	})
	if err != nil {
		t.Fatalf("set address: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&posts) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&posts); got != 1 {
		t.Fatalf("expected one POST after address settled, got %d", got)
	}
}

func TestAddItemRejectedAddress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/restaurants/7/can-deliver/", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 400, `{"message":"out of zone"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	o.mu.Lock()
	o.address = &Address{StreetAddress: "far away", Latitude: 1, Longitude: 1, Precise: true}
	o.mu.Unlock()

	rejected := make(chan eventbus.AddressEventData, 1)
	o.bus.Subscribe(eventbus.EventAddressRejected, func(data eventbus.AddressEventData) {
		select {
		case rejected <- data:
		default:
		}
	})

	if err := o.AddItem(context.Background(), ItemSelection{Product: "PIZZA"}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	select {
	case data := <-rejected:
		if data.Message == "" {
			t.Fatal("rejection carried no reason")
		}
	case <-time.After(time.Second):
		t.Fatal("no rejection event")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.addressOK == nil || *o.addressOK {
		t.Fatal("address not marked invalid")
	}
}

func TestQuantityChangesAreDebouncedToOnePut(t *testing.T) {
	var puts int32
	var lastQuantity int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/items/5", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&puts, 1)
		doc, err := decodeBody(r)
		if err != nil {
			t.Errorf("decode body: %v", err)
		}
		atomic.StoreInt64(&lastQuantity, int64(doc.Number("quantity")))
		respond(w, 200, cartBody)
	})
	mux.HandleFunc("/api/orders/1/timing", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1/validate", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{QuantityDebounce: 120 * time.Millisecond})

	// Three rapid taps within the quiet period.
	o.IncrementItem(5)
	time.Sleep(20 * time.Millisecond)
	o.IncrementItem(5)
	time.Sleep(20 * time.Millisecond)
	o.IncrementItem(5)

	if got := o.Cart().Items[0].Quantity; got != 5 {
		t.Fatalf("optimistic quantity = %d, want 5", got)
	}

	time.Sleep(500 * time.Millisecond)

	if got := atomic.LoadInt32(&puts); got != 1 {
		t.Fatalf("expected one PUT, got %d", got)
	}
	if got := atomic.LoadInt64(&lastQuantity); got != 5 {
		t.Fatalf("PUT carried quantity %d, want 5", got)
	}
}

func TestSnapshotIsolatedFromLaterMutations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/items/5", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"@id":"/api/orders/1","restaurant":"/api/restaurants/7","items":[]}`)
	})
	mux.HandleFunc("/api/orders/1/timing", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1/validate", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})

	snapshot := o.Cart()

	// Mutate the live cart after handing out the snapshot.
	o.IncrementItem(5)
	if err := o.RemoveItem(5); err != nil {
		t.Fatalf("remove item: %v", err)
	}

	if len(snapshot.Items) != 1 {
		t.Fatalf("snapshot items = %d, want 1", len(snapshot.Items))
	}
	if got := snapshot.Items[0]; got.ID != 5 || got.Quantity != 2 {
		t.Fatalf("snapshot line = %+v, want id 5 quantity 2", got)
	}
}

func TestRemoveItemOptimisticAndQueued(t *testing.T) {
	deleted := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/items/5", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		select {
		case deleted <- struct{}{}:
		default:
		}
		respond(w, 200, `{"@id":"/api/orders/1","restaurant":"/api/restaurants/7","items":[]}`)
	})
	mux.HandleFunc("/api/orders/1/timing", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1/validate", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	if err := o.RemoveItem(5); err != nil {
		t.Fatalf("remove item: %v", err)
	}

	// Optimistic removal is immediate.
	if !o.Cart().Empty() {
		t.Fatal("item still present locally")
	}

	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		t.Fatal("DELETE never issued")
	}
}

func TestQueuedFailureMarksCartStaleAndAdvances(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/items", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			respond(w, 500, `{"message":"boom"}`)
			return
		}
		respond(w, 201, cartBody)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	o.mu.Lock()
	o.cart.FulfillmentMethod = FulfillmentCollection
	o.mu.Unlock()

	expired := make(chan struct{}, 1)
	o.bus.Subscribe(eventbus.EventSessionExpired, func(...any) {
		select {
		case expired <- struct{}{}:
		default:
		}
	})

	if err := o.AddItem(context.Background(), ItemSelection{Product: "PIZZA"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("failure did not surface")
	}
	if !o.Stale() {
		t.Fatal("cart not marked stale")
	}

	// The queue advances past the failure.
	if err := o.AddItem(context.Background(), ItemSelection{Product: "PIZZA"}); err != nil {
		t.Fatalf("second add: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("second entry never ran, calls = %d", got)
	}
}

func TestUpdateCartRoutesTelephoneToCustomer(t *testing.T) {
	var mu sync.Mutex
	var customerPut, cartPut api.Document
	mux := http.NewServeMux()
	mux.HandleFunc("/api/customers/9", func(w http.ResponseWriter, r *http.Request) {
		doc, _ := decodeBody(r)
		mu.Lock()
		customerPut = doc
		mu.Unlock()
		respond(w, 200, `{"@id":"/api/customers/9"}`)
	})
	mux.HandleFunc("/api/orders/1", func(w http.ResponseWriter, r *http.Request) {
		doc, _ := decodeBody(r)
		mu.Lock()
		cartPut = doc
		mu.Unlock()
		respond(w, 200, cartBody)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	o.mu.Lock()
	o.cart.Customer = "/api/customers/9"
	o.mu.Unlock()

	err := o.UpdateCart(context.Background(), api.Document{
		"telephone": "+33612345678",
		"notes":     "ring twice",
	})
	if err != nil {
		t.Fatalf("update cart: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if customerPut.String("telephone") != "+33612345678" {
		t.Fatalf("customer PUT = %v", customerPut)
	}
	if _, ok := cartPut["telephone"]; ok {
		t.Fatal("telephone leaked into the cart PUT")
	}
	if cartPut.String("notes") != "ring twice" {
		t.Fatalf("cart PUT = %v", cartPut)
	}
}

func TestAssignCustomerGuestSendsSessionHeader(t *testing.T) {
	var mu sync.Mutex
	var header string
	var body api.Document
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/assign", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		header = r.Header.Get(SessionHeader)
		body, _ = decodeBody(r)
		mu.Unlock()
		respond(w, 200, cartBody)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := api.NewClient(server.URL, credstore.NewMemory())
	o := New(client, eventbus.New(), Options{})
	defer o.Close()
	o.AttachSession(mustDocument(t, cartBody), "guest-session-token")

	err := o.AssignCustomer(context.Background(), "guest@example.com", "+33600000000")
	if err != nil {
		t.Fatalf("assign customer: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if header != "Bearer guest-session-token" {
		t.Fatalf("session header = %q", header)
	}
	if !body.Bool("guest") || body.String("email") != "guest@example.com" {
		t.Fatalf("guest body = %v", body)
	}
}

func TestValidationThrottle(t *testing.T) {
	var validates int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/timing", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1/validate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&validates, 1)
		respond(w, 200, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{ValidationThrottle: time.Second})

	o.fetchValidation(context.Background())
	o.fetchValidation(context.Background())
	o.fetchValidation(context.Background())

	if got := atomic.LoadInt32(&validates); got != 1 {
		t.Fatalf("expected one validation inside the window, got %d", got)
	}
}

func TestValidateWithoutAddressStillValidates(t *testing.T) {
	var validates int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/timing", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1/validate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&validates, 1)
		respond(w, 200, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})

	validated := make(chan eventbus.ValidationEventData, 1)
	o.bus.Subscribe(eventbus.EventCartValidated, func(data eventbus.ValidationEventData) {
		select {
		case validated <- data:
		default:
		}
	})

	// No shipping address set: the queued address sync has nothing to PUT
	// but the validation listener must still run.
	if err := o.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}

	select {
	case data := <-validated:
		if !data.IsValid {
			t.Fatalf("validation result = %+v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("validation never ran")
	}
	if got := atomic.LoadInt32(&validates); got != 1 {
		t.Fatalf("validate calls = %d, want 1", got)
	}
}

func TestValidationViolations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/timing", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{}`)
	})
	mux.HandleFunc("/api/orders/1/validate", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 400, `{"violations":[{"message":"shipping time range is no longer available"}]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})

	var mu sync.Mutex
	var result eventbus.ValidationEventData
	o.bus.Subscribe(eventbus.EventCartValidated, func(data eventbus.ValidationEventData) {
		mu.Lock()
		result = data
		mu.Unlock()
	})

	o.fetchValidation(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if result.IsValid {
		t.Fatal("invalid cart reported valid")
	}
	if len(result.Violations) != 1 || result.Violations[0] != "shipping time range is no longer available" {
		t.Fatalf("violations = %v", result.Violations)
	}
}
