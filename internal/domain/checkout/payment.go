package checkout

import (
	"context"

	"velofood-client-go/internal/api"
	"velofood-client-go/internal/domain/eventbus"
)

// BillingDetails identifies the payer for card tokenization.
type BillingDetails struct {
	Name  string
	Email string
	Phone string
}

// PaymentMethod is a tokenized card handle returned by the payment
// provider.
type PaymentMethod struct {
	ID string
}

// PaymentIntent is a confirmed payment after additional authentication.
type PaymentIntent struct {
	ID string
}

// Tokenizer abstracts the payment provider SDK: it turns card details the
// provider collected into an opaque handle, and completes challenges the
// provider requires.
type Tokenizer interface {
	Tokenize(ctx context.Context, details BillingDetails) (PaymentMethod, error)
	HandleAction(ctx context.Context, clientSecret string) (PaymentIntent, error)
}

// Pay settles the cart by card. Free carts skip the provider entirely; paid
// ones tokenize the card, submit the handle, and complete a second
// authentication round when the provider demands one. Success publishes the
// finished order and resets the local cart.
func (o *Orchestrator) Pay(ctx context.Context, tokenizer Tokenizer, cardholderName string) (api.Document, error) {
	o.mu.Lock()
	cartID := o.cart.ID
	free := o.cart.Free()
	phone := ""
	if o.cart.fulfillment() == FulfillmentDelivery && o.cart.ShippingAddress != nil {
		phone = o.cart.ShippingAddress.Telephone
	}
	o.mu.Unlock()

	client := o.http(ctx)

	if free {
		return o.settle(ctx, client, cartID, api.Document{})
	}

	creds := o.client.Credentials(ctx)
	method, err := tokenizer.Tokenize(ctx, BillingDetails{
		Name:  cardholderName,
		Email: creds.Email,
		Phone: phone,
	})
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return nil, err
	}

	doc, err := client.Put(ctx, cartID+"/pay", api.Document{"paymentMethodId": method.ID})
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return nil, err
	}

	if doc.Bool("requiresAction") {
		intent, err := tokenizer.HandleAction(ctx, doc.String("paymentIntentClientSecret"))
		if err != nil {
			o.bus.Publish(eventbus.EventCheckoutFailed, err)
			return nil, err
		}
		return o.settle(ctx, client, cartID, api.Document{"paymentIntentId": intent.ID})
	}

	return o.settle(ctx, client, cartID, api.Document{"paymentIntentId": doc.String("paymentIntentId")})
}

// PayWithCash settles the cart as cash on delivery.
func (o *Orchestrator) PayWithCash(ctx context.Context) (api.Document, error) {
	o.mu.Lock()
	cartID := o.cart.ID
	o.mu.Unlock()
	return o.settle(ctx, o.http(ctx), cartID, api.Document{"cashOnDelivery": true})
}

// settle performs the final pay call and clears the local session.
func (o *Orchestrator) settle(ctx context.Context, client *api.Client, cartID string, payload api.Document) (api.Document, error) {
	order, err := client.Put(ctx, cartID+"/pay", payload)
	if err != nil {
		o.bus.Publish(eventbus.EventCheckoutFailed, err)
		return nil, err
	}

	o.mu.Lock()
	o.cart = Cart{}
	o.sessionToken = ""
	o.address = nil
	o.addressOK = nil
	o.mu.Unlock()

	o.bus.Publish(eventbus.EventCheckoutSucceeded, order)
	return order, nil
}

// LoadPaymentMethods lists the payment methods the restaurant accepts.
func (o *Orchestrator) LoadPaymentMethods(ctx context.Context) (api.Document, error) {
	o.mu.Lock()
	cartID := o.cart.ID
	o.mu.Unlock()
	return o.http(ctx).Get(ctx, cartID+"/payment_methods")
}

// LoadPaymentDetails fetches the provider configuration for the cart's
// payment.
func (o *Orchestrator) LoadPaymentDetails(ctx context.Context) (api.Document, error) {
	o.mu.Lock()
	cartID := o.cart.ID
	o.mu.Unlock()
	return o.http(ctx).Get(ctx, cartID+"/payment")
}
