package checkout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"velofood-client-go/internal/api"
)

type fakeTokenizer struct {
	method       PaymentMethod
	tokenizeErr  error
	intent       PaymentIntent
	actionCalled bool
}

func (f *fakeTokenizer) Tokenize(context.Context, BillingDetails) (PaymentMethod, error) {
	return f.method, f.tokenizeErr
}

func (f *fakeTokenizer) HandleAction(context.Context, string) (PaymentIntent, error) {
	f.actionCalled = true
	return f.intent, nil
}

func TestPaySubmitsTokenizedMethod(t *testing.T) {
	var mu sync.Mutex
	var payloads []api.Document
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/pay", func(w http.ResponseWriter, r *http.Request) {
		doc, _ := decodeBody(r)
		mu.Lock()
		payloads = append(payloads, doc)
		n := len(payloads)
		mu.Unlock()
		if n == 1 {
			respond(w, 200, `{"requiresAction":false,"paymentIntentId":"pi_123"}`)
			return
		}
		respond(w, 200, `{"@id":"/api/orders/1","state":"new"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	tok := &fakeTokenizer{method: PaymentMethod{ID: "pm_abc"}}

	order, err := o.Pay(context.Background(), tok, "Bob Smith")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if order.String("state") != "new" {
		t.Fatalf("unexpected order: %v", order)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 2 {
		t.Fatalf("expected two pay calls, got %d", len(payloads))
	}
	if payloads[0].String("paymentMethodId") != "pm_abc" {
		t.Fatalf("first pay payload = %v", payloads[0])
	}
	if payloads[1].String("paymentIntentId") != "pi_123" {
		t.Fatalf("second pay payload = %v", payloads[1])
	}

	// A settled payment resets the local session.
	if o.Cart().ID != "" {
		t.Fatal("cart not cleared after payment")
	}
}

func TestPayCompletesProviderChallenge(t *testing.T) {
	var mu sync.Mutex
	var payloads []api.Document
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/pay", func(w http.ResponseWriter, r *http.Request) {
		doc, _ := decodeBody(r)
		mu.Lock()
		payloads = append(payloads, doc)
		n := len(payloads)
		mu.Unlock()
		if n == 1 {
			respond(w, 200, `{"requiresAction":true,"paymentIntentClientSecret":"cs_42"}`)
			return
		}
		respond(w, 200, `{"@id":"/api/orders/1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	tok := &fakeTokenizer{
		method: PaymentMethod{ID: "pm_abc"},
		intent: PaymentIntent{ID: "pi_challenge"},
	}

	if _, err := o.Pay(context.Background(), tok, "Bob Smith"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !tok.actionCalled {
		t.Fatal("provider challenge never handled")
	}

	mu.Lock()
	defer mu.Unlock()
	if payloads[1].String("paymentIntentId") != "pi_challenge" {
		t.Fatalf("settle payload = %v", payloads[1])
	}
}

func TestPayFreeCartSkipsTokenizer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/pay", func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"@id":"/api/orders/1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	o.mu.Lock()
	o.cart.Total = 0
	o.mu.Unlock()

	tok := &fakeTokenizer{tokenizeErr: errors.New("tokenizer must not run")}
	if _, err := o.Pay(context.Background(), tok, "Bob Smith"); err != nil {
		t.Fatalf("pay free cart: %v", err)
	}
}

func TestPayWithCash(t *testing.T) {
	var mu sync.Mutex
	var payload api.Document
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/1/pay", func(w http.ResponseWriter, r *http.Request) {
		doc, _ := decodeBody(r)
		mu.Lock()
		payload = doc
		mu.Unlock()
		respond(w, 200, `{"@id":"/api/orders/1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newOrchestrator(t, server, Options{})
	if _, err := o.PayWithCash(context.Background()); err != nil {
		t.Fatalf("pay with cash: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !payload.Bool("cashOnDelivery") {
		t.Fatalf("payload = %v", payload)
	}
}

func TestCartFromDocument(t *testing.T) {
	doc := mustDocument(t, `{
		"@id": "/api/orders/12",
		"restaurant": {"@id": "/api/restaurants/3"},
		"customer": "/api/customers/8",
		"fulfillmentMethod": "collection",
		"total": 2350,
		"itemsTotal": 2000,
		"items": [
			{"id": 1, "name": "Ramen", "quantity": 2, "total": 1800},
			{"id": 2, "name": "Gyoza", "quantity": 1, "total": 200}
		],
		"shippingAddress": {
			"@id": "/api/addresses/4",
			"streetAddress": "1 Main St",
			"geo": {"latitude": 48.85, "longitude": 2.35}
		}
	}`)

	cart := cartFromDocument(doc)
	if cart.ID != "/api/orders/12" || cart.Restaurant != "/api/restaurants/3" {
		t.Fatalf("identifiers: %+v", cart)
	}
	if cart.Customer != "/api/customers/8" || cart.FulfillmentMethod != "collection" {
		t.Fatalf("fields: %+v", cart)
	}
	if len(cart.Items) != 2 || cart.Items[0].Quantity != 2 || cart.Items[1].Name != "Gyoza" {
		t.Fatalf("items: %+v", cart.Items)
	}
	if cart.ShippingAddress == nil || cart.ShippingAddress.Latitude != 48.85 {
		t.Fatalf("address: %+v", cart.ShippingAddress)
	}
	if item, ok := cart.Item(2); !ok || item.Total != 200 {
		t.Fatalf("item lookup: %+v ok=%v", item, ok)
	}
}
