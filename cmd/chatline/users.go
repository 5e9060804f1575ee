// ABOUTME: User directory subcommands: create users and mint access tokens
// ABOUTME: Talks to the configured store directly, so the gateway need not be running

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/chatline/internal/auth"
	"github.com/2389/chatline/internal/gateway"
	"github.com/2389/chatline/internal/store"
)

func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return fmt.Errorf("usage: chatline user add --name N --email E --password P [--profile-pic URL]")
	}

	flags, err := parseFlags(args[1:], "name", "email", "password", "profile-pic")
	if err != nil {
		return err
	}
	if err := required(flags, "name", "email", "password"); err != nil {
		return err
	}

	name := strings.TrimSpace(flags["name"])
	if len(name) > 100 {
		return fmt.Errorf("name exceeds maximum length of 100 characters")
	}
	email := strings.ToLower(strings.TrimSpace(flags["email"]))

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	hash, err := auth.HashPassword(flags["password"])
	if err != nil {
		return err
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		ProfilePic:   flags["profile-pic"],
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return fmt.Errorf("a user with email %s already exists", email)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created user %s <%s>\n", name, email)
	fmt.Println(user.ID)
	return nil
}

func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "email", "password")
	if err != nil {
		return err
	}
	if err := required(flags, "email", "password"); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	token, err := issueToken(ctx, s, []byte(cfg.Auth.JWTSecret), flags["email"], flags["password"], cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// errBadLogin hides whether the email or the password was wrong
var errBadLogin = errors.New("invalid email or password")

// issueToken checks the password for email and signs a token for that user
func issueToken(ctx context.Context, users store.Store, secret []byte, email, password string, ttl time.Duration) (string, error) {
	user, err := users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errBadLogin
		}
		return "", fmt.Errorf("looking up user: %w", err)
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return "", errBadLogin
	}

	verifier, err := auth.NewJWTVerifier(secret)
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	return verifier.Generate(user.ID, ttl)
}
