// Command devtoken mints a chat JWT for local testing of the WebSocket and
// REST endpoints.
//
//	JWT_SECRET=dev devtoken -user alice -name Alice
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-live/internal/auth"
)

func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id to put in the token (required)")
	username := flag.String("name", "", "display name; defaults to the user id")
	email := flag.String("email", "", "optional email claim")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret; defaults to $JWT_SECRET")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *userID == "" || *secret == "" {
		flag.Usage()
		log.Fatal().Msg("-user and a secret are required")
	}
	if *username == "" {
		*username = *userID
	}

	token, err := auth.NewJWTVerifier(*secret, *ttl).Generate(auth.Identity{
		UserID:   *userID,
		Username: *username,
		Email:    *email,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Println(token)
}
