package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// velofood-stub is a self-contained dev backend for exercising the client
// without a real marketplace deployment. Tokens are short-lived on purpose
// so the refresh path gets exercised constantly.

var (
	signingKey = []byte("velofood-stub-dev-key")
	tokenTTL   = 2 * time.Minute
)

type account struct {
	Username string
	Password string
	Email    string
	Roles    []string
}

type cartItem struct {
	ID       int64  `json:"id"`
	Product  string `json:"product"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Total    int64  `json:"total"`
}

type cart struct {
	ID                int64
	Restaurant        string
	Customer          string
	FulfillmentMethod string
	ShippingTimeRange string
	ShippingAddress   map[string]any
	Items             []cartItem
	SessionToken      string
	nextItemID        int64
}

func (c *cart) iri() string {
	return fmt.Sprintf("/api/orders/%d", c.ID)
}

func (c *cart) document() gin.H {
	total := int64(0)
	for _, item := range c.Items {
		total += item.Total
	}
	doc := gin.H{
		"@id":               c.iri(),
		"@type":             "http://schema.org/Order",
		"restaurant":        c.Restaurant,
		"fulfillmentMethod": c.FulfillmentMethod,
		"items":             c.Items,
		"itemsTotal":        total,
		"total":             total,
	}
	if c.Customer != "" {
		doc["customer"] = c.Customer
	}
	if c.ShippingAddress != nil {
		doc["shippingAddress"] = c.ShippingAddress
	}
	if c.ShippingTimeRange != "" {
		doc["shippingTimeRange"] = c.ShippingTimeRange
	}
	return doc
}

type stub struct {
	mu            sync.Mutex
	accounts      map[string]account
	refreshTokens map[string]string // refresh token -> username
	carts         map[int64]*cart
	nextCartID    int64
}

func newStub() *stub {
	return &stub{
		accounts: map[string]account{
			"bob": {Username: "bob", Password: "secret", Email: "bob@example.com", Roles: []string{"ROLE_USER"}},
		},
		refreshTokens: make(map[string]string),
		carts:         make(map[int64]*cart),
		nextCartID:    1,
	}
}

func (s *stub) mintPair(username string) (string, string) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(tokenTTL).Unix(),
		"iat":      time.Now().Unix(),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	refresh := uuid.NewString()
	s.refreshTokens[refresh] = username
	return token, refresh
}

func (s *stub) verify(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	username, _ := claims["username"].(string)
	return username, nil
}

func (s *stub) userPayload(acc account, token, refresh string) gin.H {
	return gin.H{
		"token":         token,
		"refresh_token": refresh,
		"username":      acc.Username,
		"email":         acc.Email,
		"roles":         acc.Roles,
		"enabled":       true,
	}
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	s := newStub()
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Session"},
	}))

	router.GET("/api", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"@context": "/api/contexts/Entrypoint",
			"@id":      "/api",
			"@type":    "Entrypoint",
		})
	})

	router.POST("/api/login_check", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		acc, ok := s.accounts[c.PostForm("_username")]
		if !ok || acc.Password != c.PostForm("_password") {
			c.JSON(401, gin.H{"code": 401, "message": "Invalid credentials."})
			return
		}
		token, refresh := s.mintPair(acc.Username)
		c.JSON(200, s.userPayload(acc, token, refresh))
	})

	router.POST("/api/token/refresh", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		username, ok := s.refreshTokens[c.PostForm("refresh_token")]
		if !ok {
			c.JSON(401, gin.H{"message": "invalid_grant"})
			return
		}
		delete(s.refreshTokens, c.PostForm("refresh_token"))
		token, refresh := s.mintPair(username)
		c.JSON(200, gin.H{"token": token, "refresh_token": refresh})
	})

	router.GET("/api/token/check", s.authorized(func(c *gin.Context, username string) {
		c.JSON(200, gin.H{"username": username})
	}))

	router.GET("/api/me", s.authorized(func(c *gin.Context, username string) {
		s.mu.Lock()
		acc := s.accounts[username]
		s.mu.Unlock()
		c.JSON(200, gin.H{
			"username":  acc.Username,
			"email":     acc.Email,
			"roles":     acc.Roles,
			"addresses": []gin.H{},
		})
	}))

	router.GET("/api/restaurants", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"hydra:member": []gin.H{
				{
					"@id":  "/api/restaurants/1",
					"name": "Chez Paul",
					"address": gin.H{
						"streetAddress": "1 Rue de la Paix",
					},
				},
				{
					"@id":  "/api/restaurants/2",
					"name": "Sushi Ko",
					"address": gin.H{
						"streetAddress": "2 Avenue des Ternes",
					},
				},
			},
		})
	})

	router.GET("/api/restaurants/:id/timing", func(c *gin.Context) {
		now := time.Now().UTC()
		c.JSON(200, gin.H{
			"delivery": gin.H{
				"range": []string{
					now.Add(30 * time.Minute).Format(time.RFC3339),
					now.Add(40 * time.Minute).Format(time.RFC3339),
				},
			},
			"collection": nil,
		})
	})

	router.GET("/api/restaurants/:id/can-deliver/:coords", func(c *gin.Context) {
		// Everything close to the center is deliverable.
		c.JSON(200, gin.H{})
	})

	router.POST("/api/carts/session", func(c *gin.Context) {
		var body struct {
			Restaurant string `json:"restaurant"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Restaurant == "" {
			c.JSON(400, gin.H{"message": "restaurant is required"})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		newCart := &cart{
			ID:                s.nextCartID,
			Restaurant:        body.Restaurant,
			FulfillmentMethod: "delivery",
			SessionToken:      uuid.NewString(),
			nextItemID:        1,
		}
		s.nextCartID++
		s.carts[newCart.ID] = newCart

		c.JSON(200, gin.H{
			"token": newCart.SessionToken,
			"cart":  newCart.document(),
		})
	})

	orders := router.Group("/api/orders")
	{
		orders.POST("/:id/items", s.withCart(func(c *gin.Context, ct *cart) {
			var body struct {
				Product  string `json:"product"`
				Quantity int    `json:"quantity"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(400, gin.H{"message": "invalid body"})
				return
			}
			if body.Quantity <= 0 {
				body.Quantity = 1
			}
			ct.Items = append(ct.Items, cartItem{
				ID:       ct.nextItemID,
				Product:  body.Product,
				Name:     body.Product,
				Quantity: body.Quantity,
				Total:    int64(body.Quantity) * 900,
			})
			ct.nextItemID++
			c.JSON(201, ct.document())
		}))

		orders.PUT("/:id/items/:itemID", s.withCart(func(c *gin.Context, ct *cart) {
			itemID, _ := strconv.ParseInt(c.Param("itemID"), 10, 64)
			var body struct {
				Quantity int `json:"quantity"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(400, gin.H{"message": "invalid body"})
				return
			}
			for i := range ct.Items {
				if ct.Items[i].ID == itemID {
					ct.Items[i].Quantity = body.Quantity
					ct.Items[i].Total = int64(body.Quantity) * 900
					c.JSON(200, ct.document())
					return
				}
			}
			c.JSON(404, gin.H{"message": "item not found"})
		}))

		orders.DELETE("/:id/items/:itemID", s.withCart(func(c *gin.Context, ct *cart) {
			itemID, _ := strconv.ParseInt(c.Param("itemID"), 10, 64)
			kept := ct.Items[:0]
			for _, item := range ct.Items {
				if item.ID != itemID {
					kept = append(kept, item)
				}
			}
			ct.Items = kept
			c.JSON(200, ct.document())
		}))

		orders.PUT("/:id", s.withCart(func(c *gin.Context, ct *cart) {
			var body map[string]any
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(400, gin.H{"message": "invalid body"})
				return
			}
			if v, ok := body["fulfillmentMethod"].(string); ok {
				ct.FulfillmentMethod = v
			}
			if v, ok := body["shippingAddress"].(map[string]any); ok {
				ct.ShippingAddress = v
			}
			if v, ok := body["shippingTimeRange"]; ok {
				if str, ok := v.(string); ok {
					ct.ShippingTimeRange = str
				} else {
					ct.ShippingTimeRange = ""
				}
			}
			c.JSON(200, ct.document())
		}))

		orders.PUT("/:id/assign", s.withCart(func(c *gin.Context, ct *cart) {
			var body struct {
				Guest     bool   `json:"guest"`
				Email     string `json:"email"`
				Telephone string `json:"telephone"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(400, gin.H{"message": "invalid body"})
				return
			}
			if body.Guest {
				ct.Customer = "/api/customers/guest-" + uuid.NewString()
			} else {
				ct.Customer = "/api/customers/1"
			}
			c.JSON(200, ct.document())
		}))

		orders.GET("/:id/timing", s.withCart(func(c *gin.Context, ct *cart) {
			now := time.Now().UTC()
			c.JSON(200, gin.H{
				"delivery": gin.H{
					"range": []string{
						now.Add(30 * time.Minute).Format(time.RFC3339),
						now.Add(40 * time.Minute).Format(time.RFC3339),
					},
				},
			})
		}))

		orders.GET("/:id/validate", s.withCart(func(c *gin.Context, ct *cart) {
			if len(ct.Items) == 0 {
				c.JSON(400, gin.H{
					"violations": []gin.H{{"message": "cart is empty"}},
				})
				return
			}
			c.JSON(200, gin.H{})
		}))

		orders.GET("/:id/payment_methods", s.withCart(func(c *gin.Context, ct *cart) {
			c.JSON(200, gin.H{
				"methods": []gin.H{{"type": "card"}, {"type": "cash_on_delivery"}},
			})
		}))

		orders.GET("/:id", s.withCart(func(c *gin.Context, ct *cart) {
			c.JSON(200, ct.document())
		}))

		orders.PUT("/:id/pay", s.withCart(func(c *gin.Context, ct *cart) {
			doc := ct.document()
			doc["state"] = "new"
			delete(s.carts, ct.ID)
			c.JSON(200, doc)
		}))
	}

	fmt.Fprintf(os.Stderr, "velofood-stub listening on %s\n", *addr)
	if err := router.Run(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "velofood-stub: %v\n", err)
		os.Exit(1)
	}
}

// authorized requires a valid, unexpired account token.
func (s *stub) authorized(handler func(*gin.Context, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			c.JSON(401, gin.H{"message": "Invalid JWT Token"})
			return
		}
		username, err := s.verify(token)
		if err != nil {
			c.JSON(401, gin.H{"message": "Expired JWT Token"})
			return
		}
		handler(c, username)
	}
}

// withCart resolves the cart and checks that the caller holds either a valid
// account token or the cart's own session token.
func (s *stub) withCart(handler func(*gin.Context, *cart)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(404, gin.H{"message": "not found"})
			return
		}

		s.mu.Lock()
		ct, ok := s.carts[id]
		s.mu.Unlock()
		if !ok {
			c.JSON(404, gin.H{"message": "cart not found"})
			return
		}

		token, hasToken := bearer(c.GetHeader("Authorization"))
		if !hasToken {
			c.JSON(401, gin.H{"message": "Invalid JWT Token"})
			return
		}
		if token != ct.SessionToken {
			if _, err := s.verify(token); err != nil {
				c.JSON(401, gin.H{"message": "Expired JWT Token"})
				return
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		handler(c, ct)
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
