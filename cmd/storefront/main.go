package main

import (
	"database/sql"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"Storefront/internal/cart"
	"Storefront/internal/catalog"
	"Storefront/internal/diskcache"
	"Storefront/internal/identity"
	"Storefront/internal/imagecache"
	"Storefront/internal/wishlist"
	"Storefront/internal/wp"
	"Storefront/pkg/kit"
)

type config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	WordPressURL string `env:"WORDPRESS_URL,required"`

	ConsumerKey    string `env:"WC_CONSUMER_KEY"`
	ConsumerSecret string `env:"WC_CONSUMER_SECRET"`

	CacheDir     string        `env:"CACHE_DIR" envDefault:"./cache"`
	CacheEnabled bool          `env:"CACHE_ENABLED" envDefault:"true"`
	CacheExpiry  time.Duration `env:"CACHE_EXPIRY" envDefault:"60m"`

	ImageCacheDir string   `env:"IMAGE_CACHE_DIR" envDefault:"./cache/images"`
	ImageHosts    []string `env:"IMAGE_HOSTS" envSeparator:","`

	JWTSecret     string `env:"JWT_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	MetricsToken  string `env:"METRICS_TOKEN"`

	DatabaseURL string `env:"DATABASE_URL"`

	WebhookRateLimit int `env:"WEBHOOK_RATE_LIMIT" envDefault:"60"`
}

func main() {
	service := "storefront"
	log := kit.NewLogger(service)
	defer func() { _ = log.Sync() }()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal("config", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := kit.NewMetrics(reg)

	store, err := diskcache.NewStore(diskcache.Config{
		Dir:           cfg.CacheDir,
		DefaultExpiry: cfg.CacheExpiry,
	}, reg, log)
	if err != nil {
		log.Fatal("disk cache", zap.Error(err))
	}

	imageHosts := cfg.ImageHosts
	if len(imageHosts) == 0 {
		// mirror the origin's own images unless told otherwise
		if u, err := url.Parse(cfg.WordPressURL); err == nil && u.Host != "" {
			imageHosts = []string{u.Host}
		}
	}
	images, err := imagecache.New(imagecache.Config{
		Dir:   cfg.ImageCacheDir,
		Hosts: imageHosts,
	}, reg, log)
	if err != nil {
		log.Fatal("image cache", zap.Error(err))
	}

	wpc := wp.NewClient(cfg.WordPressURL, log)
	wcc := wp.NewCommerceClient(cfg.WordPressURL, cfg.ConsumerKey, cfg.ConsumerSecret, log)

	svc := catalog.NewService(catalog.ServiceConfig{
		Store:   store,
		WP:      wpc,
		WC:      wcc,
		Images:  images,
		Log:     log,
		Enabled: cfg.CacheEnabled,
	})
	facade := catalog.NewFacade(svc, log)

	carts := cart.NewManager(wp.NewStoreClient(cfg.WordPressURL, log), store, log)
	defer carts.Close()

	var wishes wishlist.Store = wishlist.NewFileStore(store)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("open database", zap.Error(err))
		}
		defer db.Close()
		wishes = wishlist.NewPostgresStore(db)
		log.Info("wishlist storage: postgres")
	}
	wsvc := wishlist.NewService(wishes, log)

	var maker *identity.TokenMaker
	if cfg.JWTSecret != "" {
		maker = identity.NewTokenMaker(cfg.JWTSecret)
	} else {
		log.Warn("JWT_SECRET unset, all carts and wishlists are guest-scoped")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(kit.Recoverer)
	r.Use(kit.Logging(log))
	r.Use(metrics.Middleware(service, kit.ChiRoutePatternOrPath))

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if cfg.MetricsToken != "" {
		r.With(kit.MetricsAuth(cfg.MetricsToken)).Handle("/metrics", metricsHandler)
	} else {
		r.Handle("/metrics", metricsHandler)
	}

	webhooks := catalog.NewWebhookHandler(svc, log)
	limiter := kit.NewIPRateLimiter(cfg.WebhookRateLimit, time.Minute)
	r.With(kit.HeaderSecret("X-Webhook-Secret", cfg.WebhookSecret), limiter.Middleware).
		Post("/webhooks/wordpress", webhooks.ServeHTTP)

	r.Handle("/images/*", images.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(maker))
		r.Mount("/cart", (&cart.Server{Carts: carts, Catalog: facade, Log: log}).Routes())
		r.Mount("/wishlist", (&wishlist.Server{Svc: wsvc, Catalog: facade, Log: log}).Routes())
	})

	r.Mount("/", (&catalog.Server{Facade: facade, Svc: svc, Log: log}).Routes())

	if err := kit.RunHTTPServer(":"+cfg.Port, r, log); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}
