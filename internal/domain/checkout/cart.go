package checkout

import (
	"fmt"

	"velofood-client-go/internal/api"
)

// Fulfillment methods understood by the backend.
const (
	FulfillmentDelivery   = "delivery"
	FulfillmentCollection = "collection"
)

// Address is a shipping address with resolved coordinates. Precise reports
// whether geocoding produced house-level coordinates; imprecise addresses
// are never sent to the deliverability check.
type Address struct {
	ID            string  `json:"@id,omitempty"`
	StreetAddress string  `json:"streetAddress"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Telephone     string  `json:"telephone,omitempty"`
	Precise       bool    `json:"-"`
}

func (a Address) document() api.Document {
	doc := api.Document{
		"streetAddress": a.StreetAddress,
		"geo": map[string]any{
			"latitude":  a.Latitude,
			"longitude": a.Longitude,
		},
	}
	if a.ID != "" {
		doc["@id"] = a.ID
	}
	if a.Telephone != "" {
		doc["telephone"] = a.Telephone
	}
	return doc
}

func (a Address) coordinates() string {
	return fmt.Sprintf("%v,%v", a.Latitude, a.Longitude)
}

// Item is one cart line.
type Item struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Total    float64 `json:"total"`
}

// Cart is the local copy of the server-side cart resource. It is updated
// only from successful mutation responses, applied in queue-completion
// order; optimistic edits never survive past the next reconciliation.
type Cart struct {
	ID                string
	Restaurant        string
	Customer          string
	FulfillmentMethod string
	ShippingTimeRange string
	Items             []Item
	ItemsTotal        float64
	Total             float64
	ShippingAddress   *Address
}

// Empty reports whether the cart holds no items.
func (c Cart) Empty() bool {
	return len(c.Items) == 0
}

// Free reports whether there is nothing to pay.
func (c Cart) Free() bool {
	return c.Total == 0
}

// Item returns the line with the given id.
func (c Cart) Item(id int64) (Item, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// clone returns a copy whose Items slice no longer shares its backing array
// with the receiver. Snapshots handed out of the mutex must not alias the
// live cart.
func (c Cart) clone() Cart {
	c.Items = append([]Item(nil), c.Items...)
	return c
}

// fulfillment defaults to delivery when the server has not set one yet.
func (c Cart) fulfillment() string {
	if c.FulfillmentMethod == "" {
		return FulfillmentDelivery
	}
	return c.FulfillmentMethod
}

// cartFromDocument builds the local cart copy from a hypermedia body.
func cartFromDocument(doc api.Document) Cart {
	cart := Cart{
		ID:                doc.ID(),
		Restaurant:        doc.String("restaurant"),
		Customer:          doc.String("customer"),
		FulfillmentMethod: doc.String("fulfillmentMethod"),
		ShippingTimeRange: doc.String("shippingTimeRange"),
		ItemsTotal:        doc.Number("itemsTotal"),
		Total:             doc.Number("total"),
	}
	if ref, ok := doc["restaurant"].(map[string]any); ok {
		cart.Restaurant = api.Document(ref).ID()
	}
	if ref, ok := doc["customer"].(map[string]any); ok {
		cart.Customer = api.Document(ref).ID()
	}
	for _, item := range doc.Documents("items") {
		cart.Items = append(cart.Items, Item{
			ID:       int64(item.Number("id")),
			Name:     item.String("name"),
			Quantity: int(item.Number("quantity")),
			Total:    item.Number("total"),
		})
	}
	if addr, ok := doc["shippingAddress"].(map[string]any); ok {
		cart.ShippingAddress = addressFromDocument(api.Document(addr))
	}
	return cart
}

func addressFromDocument(doc api.Document) *Address {
	addr := &Address{
		ID:            doc.ID(),
		StreetAddress: doc.String("streetAddress"),
		Telephone:     doc.String("telephone"),
		Precise:       true,
	}
	if geo, ok := doc["geo"].(map[string]any); ok {
		g := api.Document(geo)
		addr.Latitude = g.Number("latitude")
		addr.Longitude = g.Number("longitude")
	}
	return addr
}
