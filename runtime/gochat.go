package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/gochat/config"
	"github.com/requiem-ai/gochat/context"
	"github.com/requiem-ai/gochat/services"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (default: ./config.yaml if present)")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
	zerolog.TimeFieldFormat = time.RFC3339

	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Fatal().Err(err).Msg("Error loading .env file")
		}
		log.Debug().Msg("No .env file, using the environment only")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	setLogLevel(cfg.Log.Level)

	log.Info().Msg("Starting GoChat")

	ctx, err := context.NewCtx(buildServices(cfg)...)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building services")
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("Stopped with error")
		return
	}
}

func buildServices(cfg *config.Config) []context.Service {
	svcs := []context.Service{}
	if cfg.Telegram.Enabled {
		svcs = append(svcs, &services.SetupService{Config: cfg})
	}

	//Core
	svcs = append(svcs,
		&services.ChatService{Config: cfg},
		&services.WebService{Config: cfg},
	)

	if cfg.Telegram.Enabled {
		svcs = append(svcs, &services.TelegramService{Config: cfg})
	}
	return svcs
}

func setLogLevel(level string) {
	level = strings.ToLower(level)
	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		fallthrough
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Setting Log Level")
}
