package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aether/internal/config"
	"aether/internal/content"
	"aether/internal/http"
	"aether/internal/identity"
	"aether/internal/models"
	"aether/internal/storage"
	"aether/internal/ws"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// addUser creates a user record and prints a connection token for it.
// Account management lives outside this process, so this is the only
// built-in way to mint an identity.
func addUser(ctx context.Context, cfg *config.Config, username string) error {
	if err := content.ValidateUsername(username); err != nil {
		return fmt.Errorf("invalid username %q: %w", username, err)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	user := models.User{
		ID:       uuid.NewString(),
		Username: username,
	}
	if err := bbStorage.UpsertUser(user); err != nil {
		return err
	}

	identityService := identity.NewService(ctx, bbStorage, cfg.TokenExpiry)
	token, err := identityService.Issue(user.ID)
	if err != nil {
		return err
	}

	fmt.Printf("User created:\n  id:    %s\n  name:  %s\n  token: %s\n", user.ID, user.Username, token)
	return nil
}

func run(ctx context.Context) error {
	newUser := flag.String("add-user", "", "Username to create (prints the user id and connection token)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *newUser != "" {
		return addUser(ctx, cfg, *newUser)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	identityService := identity.NewService(ctx, bbStorage, cfg.TokenExpiry)

	registry := ws.NewRegistry()
	hub := ws.NewHub(ctx, bbStorage, registry)

	apiServer := http.NewAPIServer(identityService, hub, bbStorage, cfg.APIAddr, cfg.HistoryLimit)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
