package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"velofood-client-go/internal/api"
	"velofood-client-go/internal/domain/catalog"
	"velofood-client-go/internal/domain/checkout"
	credstore "velofood-client-go/internal/domain/credentials/store"
	"velofood-client-go/internal/domain/eventbus"
	platformconfig "velofood-client-go/internal/platform/config"
	platformerrors "velofood-client-go/internal/platform/errors"
	"velofood-client-go/internal/platform/logging"
	platformstorage "velofood-client-go/internal/platform/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "velofood: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file (default .config.yaml)")
	baseURL := flag.String("base-url", "", "override the backend base URL")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := platformconfig.NewLoader().WithPath(*configPath).Load()
	if err != nil {
		return err
	}
	if *baseURL != "" {
		cfg.Server.BaseURL = *baseURL
	}

	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	resolved, err := api.CheckServer(ctx, cfg.Server.BaseURL)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindNetwork, "main", "backend unreachable", err)
	}

	client := api.NewClient(resolved, store,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Server.Timeout.Std()))

	switch flag.Arg(0) {
	case "login":
		return runLogin(ctx, client, flag.Args()[1:])
	case "search":
		return runSearch(ctx, client, logger)
	case "order":
		return runOrder(ctx, client, cfg, logger, flag.Args()[1:])
	case "logout":
		return client.Logout(ctx)
	default:
		fmt.Fprintln(os.Stderr, "usage: velofood [flags] login|search|order|logout")
		return nil
	}
}

func buildStore(cfg *platformconfig.Config) (credstore.Store, error) {
	deps := credstore.Dependencies{}
	if cfg.Credentials.Driver == credstore.DriverSQLite {
		db, err := platformstorage.Open(cfg.Credentials.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		deps.SQLiteDB = db
	}
	storeCfg := credstore.Config{Driver: cfg.Credentials.Driver}
	if cfg.Credentials.Driver == credstore.DriverRedis {
		storeCfg.Redis = &credstore.RedisConfig{
			Addr:     cfg.Credentials.Redis.Addr,
			Username: cfg.Credentials.Redis.Username,
			Password: cfg.Credentials.Redis.Password,
			DB:       cfg.Credentials.Redis.DB,
			Prefix:   cfg.Credentials.Redis.Prefix,
		}
	}
	return credstore.New(storeCfg, deps)
}

func runLogin(ctx context.Context, client *api.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: velofood login <username> <password>")
	}
	creds, err := client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", creds.Username)
	return nil
}

func runSearch(ctx context.Context, client *api.Client, logger *logging.Logger) error {
	service := catalog.New(client, logger)
	restaurants, err := service.SearchRestaurants(ctx)
	if err != nil {
		return err
	}
	for _, r := range restaurants {
		line := fmt.Sprintf("%s  %s", r.ID, r.Name)
		if r.Address != "" {
			line += "  (" + r.Address + ")"
		}
		fmt.Println(line)
	}
	return nil
}

// runOrder walks a minimal guest checkout: open a cart session on the given
// restaurant, add a product, and print the reconciled cart.
func runOrder(ctx context.Context, client *api.Client, cfg *platformconfig.Config, logger *logging.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: velofood order <restaurant-iri> <product-code>")
	}
	restaurant, product := args[0], args[1]

	service := catalog.New(client, logger)
	session, err := service.StartSession(ctx, restaurant)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	orchestrator := checkout.New(client, bus, checkout.Options{
		QuantityDebounce:   cfg.Checkout.QuantityDebounce.Std(),
		ValidationThrottle: cfg.Checkout.ValidationThrottle.Std(),
		Logger:             logger,
	})
	defer orchestrator.Close()
	orchestrator.AttachSession(session.Cart, session.Token)

	done := make(chan struct{}, 1)
	bus.Subscribe(eventbus.EventCartUpdated, func(cart checkout.Cart) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	bus.Subscribe(eventbus.EventAddressRequired, func(data eventbus.AddressEventData) {
		fmt.Println("address required:", data.Message)
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if err := orchestrator.AddItem(ctx, checkout.ItemSelection{Product: product, Quantity: 1}); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	cart := orchestrator.Cart()
	fmt.Printf("cart %s: %d item(s), total %.2f\n", cart.ID, len(cart.Items), cart.Total/100)
	return nil
}
