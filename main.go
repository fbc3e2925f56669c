package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"padsync/config/database"
	"padsync/internal/pad/repository"
	"padsync/internal/pad/service"
	"padsync/pkg/logger"
	"padsync/router"
	"padsync/socket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}
	logger.Init()
	defer logger.Log.Sync()

	db := database.Connect()
	defer db.Close()

	hub := socket.NewHub()

	// A redis bridge is optional: a single node fans out locally on its own.
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		bridge, err := socket.NewBridge(redisURL)
		if err != nil {
			logger.Sugar.Fatalf("Failed to connect the event bridge: %v", err)
		}
		defer bridge.Close()
		hub.AttachBridge(bridge)
		bridge.Start(context.Background())
		logger.Sugar.Info("Event bridge connected")
	}
	go hub.Run()

	grantSecret := strings.TrimSpace(os.Getenv("GRANT_SECRET"))
	if grantSecret == "" {
		logger.Sugar.Fatal("GRANT_SECRET environment variable not set.")
	}

	repo := repository.NewPadRepository(db)
	svc := service.NewPadService(repo, hub, []byte(grantSecret))

	addr := strings.TrimSpace(os.Getenv("ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	logger.Sugar.Infof("padsync listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(svc, hub)); err != nil {
		logger.Sugar.Fatalf("Server stopped: %v", err)
	}
}
