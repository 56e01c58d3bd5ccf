// Command issue-token mints a bearer token for the interaction gateway to act as a member.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spec-kit/verification-desk/internal/auth"
	"github.com/spec-kit/verification-desk/internal/config"
)

func main() {
	memberID := flag.String("member", "", "guild member id the token acts as")
	name := flag.String("name", "", "display name carried in the token")
	flag.Parse()

	if *memberID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes).GenerateToken(*memberID, *name)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
}
