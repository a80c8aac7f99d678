// api-ping — CLI утилита для диагностики доступности backend API.
//
// Использование:
//
//	./api-ping [путь к config.yaml]
//
// Проверяет связь с backend'ом мимо очереди и печатает класс ошибки,
// если связи нет. Код выхода 0 = всё хорошо.
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
)

// Version — версия утилиты (заполняется при сборке)
var Version = "dev"

func main() {
	// 1. Логгер в stderr, человекочитаемый формат
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Str("version", Version).Msg("starting api-ping")

	// 2. Путь к конфигу: аргумент или config.yaml рядом
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	// 3. Ping не требует персистентных токенов — хранилище в памяти
	client, err := api.NewFromConfig(cfg.API, creds.NewMemoryStore(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := client.Ping(ctx); err != nil {
		class := api.ClassifyError(err)
		fmt.Fprintf(os.Stderr, "✗ %s (%s)\n", class.HumanMessage(), class)
		log.Error().Err(err).Str("class", class.String()).Msg("ping failed")
		os.Exit(1)
	}

	fmt.Printf("✓ %s доступен (%s)\n", cfg.API.BaseURL, time.Since(start).Round(time.Millisecond))
}
