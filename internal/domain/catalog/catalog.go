package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"velofood-client-go/internal/api"
	"velofood-client-go/internal/platform/logging"
)

const logTag = "CATALOG"

// Restaurant is a marketplace shop with its delivery timing estimate.
// Timing is nil when the estimate could not be fetched; the shop is still
// listed.
type Restaurant struct {
	ID      string
	Name    string
	Address string
	Timing  api.Document
}

// Session is a freshly opened guest cart: the cart resource plus the session
// token that authorizes mutations on it before login.
type Session struct {
	Cart  api.Document
	Token string
}

// Service reads the public marketplace catalog.
type Service struct {
	client *api.Client
	logger *logging.Logger
}

func New(client *api.Client, logger *logging.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// SearchRestaurants lists all shops, each enriched with its timing
// estimate.
func (s *Service) SearchRestaurants(ctx context.Context) ([]Restaurant, error) {
	return s.search(ctx, "/api/restaurants")
}

// SearchRestaurantsForAddress lists the shops able to serve the given
// coordinates.
func (s *Service) SearchRestaurantsForAddress(ctx context.Context, latitude, longitude float64) ([]Restaurant, error) {
	return s.search(ctx, fmt.Sprintf("/api/restaurants?coordinate=%v,%v", latitude, longitude))
}

func (s *Service) search(ctx context.Context, uri string) ([]Restaurant, error) {
	doc, err := s.client.Get(ctx, uri, api.Anonymous())
	if err != nil {
		return nil, err
	}

	members := doc.Members()
	restaurants := make([]Restaurant, len(members))
	for i, member := range members {
		restaurants[i] = Restaurant{
			ID:   member.ID(),
			Name: member.String("name"),
		}
		if addr, ok := member["address"].(map[string]any); ok {
			restaurants[i].Address = api.Document(addr).String("streetAddress")
		}
	}

	s.attachTimings(ctx, restaurants)
	return restaurants, nil
}

// attachTimings fans the per-shop timing requests out in parallel. A failed
// estimate leaves its shop without timing rather than failing the search.
func (s *Service) attachTimings(ctx context.Context, restaurants []Restaurant) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range restaurants {
		i := i
		g.Go(func() error {
			timing, err := s.client.Get(ctx, restaurants[i].ID+"/timing", api.Anonymous())
			if err != nil {
				s.logger.DebugTag(logTag, "timing unavailable", "restaurant", restaurants[i].ID)
				return nil
			}
			restaurants[i].Timing = timing
			return nil
		})
	}
	g.Wait()
}

// Menu fetches a shop's menu document.
func (s *Service) Menu(ctx context.Context, uri string) (api.Document, error) {
	return s.client.Get(ctx, uri, api.Anonymous())
}

// SavedAddresses returns the authenticated user's saved delivery addresses.
func (s *Service) SavedAddresses(ctx context.Context) ([]api.Document, error) {
	doc, err := s.client.Get(ctx, "/api/me")
	if err != nil {
		return nil, err
	}
	return doc.Documents("addresses"), nil
}

// StartSession opens a guest cart for the given shop. The returned token
// authorizes cart mutations until a customer is assigned.
func (s *Service) StartSession(ctx context.Context, restaurantID string) (Session, error) {
	doc, err := s.client.Post(ctx, "/api/carts/session", api.Document{
		"restaurant": restaurantID,
	})
	if err != nil {
		return Session{}, err
	}

	session := Session{Token: doc.String("token")}
	if cart, ok := doc["cart"].(map[string]any); ok {
		session.Cart = api.Document(cart)
	}
	return session, nil
}
