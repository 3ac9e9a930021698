package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/cli"
	"github.com/gosight/funnel/internal/config"
	"github.com/gosight/funnel/internal/logging"
)

func main() {
	_ = godotenv.Load()
	logging.Setup(config.LogConfig{Level: os.Getenv("LOG_LEVEL")})

	if err := cli.NewRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("funnelctl failed")
	}
}
