package main

import (
	"fmt"
	"os"
	"time"

	"grocery-pos-terminal/internal/config"
	"grocery-pos-terminal/pkg/jwt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

// Issues the bearer token a till screen uses against the terminal agent.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 1. Load Env
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on system env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Flags default to the agent's own config
	terminal := flag.StringP("terminal", "t", cfg.TerminalID, "terminal id the token is bound to")
	cashier := flag.StringP("cashier", "c", "", "cashier name carried in the token")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime, 0 for no expiry")
	flag.Parse()

	if cfg.TerminalSecret == "" {
		log.Fatal().Msg("TERMINAL_SECRET is empty, the agent accepts unauthenticated requests")
	}

	// 3. Sign
	token, err := jwt.GenerateToken(cfg.TerminalSecret, *terminal, *cashier, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}

	log.Info().Str("terminal", *terminal).Str("cashier", *cashier).Dur("ttl", *ttl).Msg("token issued")
	fmt.Println(token)
}
