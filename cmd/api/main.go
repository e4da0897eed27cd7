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

	"github.com/zhouzirui/heritage-guide/backend/internal/config"
	"github.com/zhouzirui/heritage-guide/backend/internal/handler"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	"github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	"github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
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

	voiceStore := voice.NewMemoryStore(voice.Seed(), cfg.Widget.DefaultVoice)
	if _, ok := voiceStore.FindByCode(cfg.Widget.DefaultVoice); !ok {
		log.Printf("warning: WIDGET_DEFAULT_VOICE %q is not supported, using %s", cfg.Widget.DefaultVoice, voiceStore.Default().Code)
	}

	// 未配置凭证时使用 stub，挂件依旧可以完整演示朗读流程
	speechService := speech.NewService(cfg.Speech.Model())
	if cfg.Speech.Enabled {
		log.Printf("Speech service initialized with provider %s", speechService.Provider())
	} else {
		log.Println("语音服务凭证未配置，使用 stub 合成器")
	}

	chatService := chat.NewService(speechService, voiceStore,
		chat.WithEngineOptions(
			chat.WithReplyDelay(cfg.Widget.ReplyDelay),
			chat.WithDiscardStaleReplies(cfg.Widget.DiscardStaleReplies),
		),
		chat.WithTTSEnabled(cfg.Widget.TTSEnabled),
		chat.WithMaxPlayback(cfg.Widget.MaxPlayback),
		chat.WithSessionTTL(cfg.Widget.SessionTTL),
	)
	chatService.StartReaper(ctx, cfg.Widget.ReapInterval)
	defer chatService.CloseAll()

	router := handler.NewRouter(voiceStore, chatService, speechService, cfg.Widget.AllowedOrigins)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Heritage Guide backend listening on %s", addr)
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
