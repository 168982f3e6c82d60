package main

import (
	"context"
	"flag"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"Storefront/internal/catalog"
	"Storefront/internal/diskcache"
	"Storefront/internal/imagecache"
	"Storefront/internal/wp"
	"Storefront/pkg/kit"
)

// refresh repopulates the disk cache from the WordPress origin, either fully
// or for a single resource kind. Meant for cron and deploy hooks.
func main() {
	log := kit.NewLogger("refresh")
	defer func() { _ = log.Sync() }()

	kind := flag.String("kind", "", "refresh a single kind (products, categories, pages, posts, menus, site) instead of everything")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	origin := os.Getenv("WORDPRESS_URL")
	if origin == "" {
		log.Fatal("WORDPRESS_URL is required")
	}

	reg := prometheus.NewRegistry()

	store, err := diskcache.NewStore(diskcache.Config{Dir: getenv("CACHE_DIR", "./cache")}, reg, log)
	if err != nil {
		log.Fatal("disk cache", zap.Error(err))
	}

	var imageHosts []string
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		imageHosts = []string{u.Host}
	}
	images, err := imagecache.New(imagecache.Config{
		Dir:   getenv("IMAGE_CACHE_DIR", "./cache/images"),
		Hosts: imageHosts,
	}, reg, log)
	if err != nil {
		log.Fatal("image cache", zap.Error(err))
	}

	svc := catalog.NewService(catalog.ServiceConfig{
		Store:   store,
		WP:      wp.NewClient(origin, log),
		WC:      wp.NewCommerceClient(origin, os.Getenv("WC_CONSUMER_KEY"), os.Getenv("WC_CONSUMER_SECRET"), log),
		Images:  images,
		Log:     log,
		Enabled: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	if *kind != "" {
		err = svc.RefreshPartial(ctx, *kind)
	} else {
		err = svc.RefreshAll(ctx)
	}
	if err != nil {
		log.Fatal("refresh failed", zap.String("kind", *kind), zap.Error(err))
	}

	log.Info("refresh done",
		zap.String("kind", *kind),
		zap.Duration("took", time.Since(start)),
		zap.Time("last_full_refresh", svc.Meta().LastFullRefresh),
	)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
