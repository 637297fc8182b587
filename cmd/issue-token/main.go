package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/internal/utils"
	"github.com/bvodo/booking-core/pkg/jwt"
)

// issue-token prints a signing secret and/or a bearer token for local testing.
//
//	issue-token -secret-only
//	JWT_SECRET=... issue-token -role manager -org 6f1c...
func main() {
	secretOnly := flag.Bool("secret-only", false, "only generate a new JWT_SECRET")
	role := flag.String("role", "traveler", "actor role: traveler, manager or operator")
	org := flag.String("org", "", "organization id (random when empty)")
	user := flag.String("user", "", "user id (random when empty)")
	issuer := flag.String("issuer", envOr("JWT_ISSUER", "booking-core"), "token issuer")
	expiry := flag.Duration("expiry", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if *secretOnly || secret == "" {
		generated, err := utils.GenerateJWTSecret()
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		secret = generated
		fmt.Printf("JWT_SECRET=%s\n", secret)
		if *secretOnly {
			return
		}
	}

	if !models.Role(*role).IsValid() {
		log.Fatalf("Unknown role %q", *role)
	}

	userID := parseOrNew(*user, "user")
	orgID := parseOrNew(*org, "org")

	token, err := jwt.NewService(secret, *issuer, *expiry).GenerateToken(userID, orgID, *role)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("USER_ID=%s\n", userID)
	fmt.Printf("ORGANIZATION_ID=%s\n", orgID)
	fmt.Printf("ROLE=%s\n", *role)
	fmt.Printf("TOKEN=%s\n", token)
}

func parseOrNew(value, name string) uuid.UUID {
	if value == "" {
		return uuid.New()
	}
	id, err := uuid.Parse(value)
	if err != nil {
		log.Fatalf("Invalid %s id: %v", name, err)
	}
	return id
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
