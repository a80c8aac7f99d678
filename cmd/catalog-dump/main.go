// catalog-dump — выкачивает справочники (категории, города) через кеш.
//
// Использование:
//
//	./catalog-dump [путь к config.yaml]
//
// Каждый справочник запрашивается дважды: второй проход должен попасть
// в кеш и пройти без сетевого вызова. Удобно для проверки backend'а
// кеша (memory/redis) на живой конфигурации.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/remeslo-app/gateway/pkg/api"
	"github.com/remeslo-app/gateway/pkg/config"
	"github.com/remeslo-app/gateway/pkg/creds"
	"github.com/remeslo-app/gateway/pkg/refcache"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	store, err := refcache.NewStoreFromConfig(cfg.Cache.Backend, cfg.Cache.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating cache store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	client, err := api.NewFromConfig(cfg.API, creds.NewMemoryStore(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	catalog := api.NewCatalog(client, refcache.New(store), cfg.Cache)
	ctx := context.Background()

	// Два прохода: холодный (сеть) и тёплый (кеш)
	for pass := 1; pass <= 2; pass++ {
		start := time.Now()

		categories, err := catalog.Categories(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading categories: %v\n", err)
			os.Exit(1)
		}

		cities, err := catalog.Cities(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading cities: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("pass %d: %d categories, %d cities (%s)\n",
			pass, len(categories), len(cities), time.Since(start).Round(time.Millisecond))
	}
}
