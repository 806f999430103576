package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"oneclaw/config"
	"oneclaw/internal/channels"
	"oneclaw/internal/database"
	"oneclaw/internal/executor"
	"oneclaw/internal/router"
)

func main() {
	cfg := config.Load()
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	database.SeedAdmin(db, &cfg.Admin)

	exec := executor.NewHTTPClient(cfg.Executor.BaseURL, cfg.Executor.Timeout)
	engine, deps := router.Setup(cfg, db, exec)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var discord *channels.DiscordChannel
	if cfg.Discord.BotToken != "" {
		discord = channels.NewDiscordChannel(cfg.Discord.BotToken, deps.Commands)
		discord.Start(ctx)
		log.Printf("[discord] channel enabled")
	} else {
		log.Printf("[discord] channel disabled: set DISCORD_BOT_TOKEN to enable")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	if discord != nil {
		discord.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	log.Println("server stopped")
}
