package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/talk-practice/backend/internal/config"
	"github.com/zhouzirui/talk-practice/backend/internal/handler"
	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
	"github.com/zhouzirui/talk-practice/backend/internal/service/moderation"
	"github.com/zhouzirui/talk-practice/backend/internal/service/session"
	"github.com/zhouzirui/talk-practice/backend/internal/store/memory"
	"github.com/zhouzirui/talk-practice/backend/internal/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if !cfg.AI.Enabled() {
		log.Fatalf("%s 凭证或 MODEL_MAIN 未配置，无法启动练习服务", cfg.AI.Provider)
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to create chat model: %v", err)
	}

	aiService, err := ai.NewService(ctx, chatModel, cfg.AI)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	log.Printf("AI service initialized provider=%s main=%s", cfg.AI.Provider, cfg.AI.Models.Main)

	moderator := moderation.NewService(aiService, moderation.Config{Enabled: cfg.Moderation.Enabled})
	if moderator.Enabled() {
		log.Printf("Moderation enabled policy=%s", cfg.Moderation.Policy)
	} else {
		log.Println("Moderation disabled by configuration")
	}

	store, pinger, closeStore := openStore(cfg.Store)
	defer closeStore()

	sessionService := session.NewService(store, aiService, moderator, session.Config{
		CallTimeout: aiService.Timeout(),
		Policy:      moderation.PolicyFor(cfg.Moderation.Policy),
	})

	router := handler.NewRouter(cfg.Server, sessionService, pinger)

	startServer(ctx, cfg.Server, router)
}

// openStore returns the configured session store, an optional health probe
// and a close func.
func openStore(storeCfg config.StoreConfig) (chat.Store, handler.Pinger, func()) {
	if storeCfg.Driver != "sqlite" {
		log.Println("[store] using in-memory session store")
		return memory.NewStore(), nil, func() {}
	}

	db, err := sqlite.Open(storeCfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	log.Printf("[store] using sqlite session store at %s", storeCfg.SQLitePath)

	return db, db, func() {
		if err := db.Close(); err != nil {
			log.Printf("[store] close failed: %v", err)
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Talk practice backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
