// Command token mints access tokens for local development and load tests.
// It needs auth.private_key_path; production tokens come from the identity provider.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/floroz/gavel-estates/pkg/auth"
	"github.com/floroz/gavel-estates/services/bid-service/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	userFlag := flag.String("user", "", "user id (random when empty)")
	email := flag.String("email", "", "email claim")
	staff := flag.Bool("staff", false, "grant the staff permission")
	flag.Parse()

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.PrivateKeyPath == "" {
		logger.Error("BID_AUTH__PRIVATE_KEY_PATH is not set")
		os.Exit(1)
	}

	privateKeyPEM, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		logger.Error("Failed to read private key", "path", cfg.Auth.PrivateKeyPath, "error", err)
		os.Exit(1)
	}
	publicKeyPEM, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Failed to read public key", "path", cfg.Auth.PublicKeyPath, "error", err)
		os.Exit(1)
	}

	signer, err := auth.NewSigner(privateKeyPEM, publicKeyPEM, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Failed to create signer", "error", err)
		os.Exit(1)
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			logger.Error("Invalid user id", "user", *userFlag, "error", err)
			os.Exit(1)
		}
	}
	if *email == "" {
		*email = userID.String() + "@example.com"
	}

	var permissions []string
	if *staff {
		permissions = append(permissions, auth.PermissionStaff)
	}

	token, expiresAt, err := signer.GenerateAccessToken(userID, *email, "", permissions)
	if err != nil {
		logger.Error("Failed to generate token", "error", err)
		os.Exit(1)
	}

	logger.Info("Token issued", "user_id", userID, "expires_at", expiresAt, "staff", *staff)
	fmt.Println(token)
}
