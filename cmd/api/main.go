package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/persona-chat/backend/internal/config"
	"github.com/zhouzirui/persona-chat/backend/internal/handler"
	"github.com/zhouzirui/persona-chat/backend/internal/metrics"
	"github.com/zhouzirui/persona-chat/backend/internal/middleware"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
	"github.com/zhouzirui/persona-chat/backend/internal/service/ai"
	"github.com/zhouzirui/persona-chat/backend/internal/service/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/service/session"
	"github.com/zhouzirui/persona-chat/backend/internal/storage/logstore"
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

	// 所有 persona 必须同时具备 API 密钥和头像，否则拒绝启动。
	catalog := persona.NewCatalog(persona.Seed(), cfg.AI.PersonaKeys)
	if err := catalog.Validate(); err != nil {
		log.Fatalf("%v: %v", config.ErrConfigurationMissing, err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	table, closeTable, err := openTable(ctx, cfg.LogStore)
	if err != nil {
		log.Fatalf("failed to open chat log: %v", err)
	}
	defer closeTable()

	store := logstore.New(table,
		logstore.WithCacheTTL(cfg.LogStore.CacheTTL),
		logstore.WithMetrics(m),
	)

	client := ai.NewClient(ai.WithURL(cfg.AI.ChatURL), ai.WithTimeout(cfg.AI.Timeout))
	chatSvc := chat.NewService(client, store, catalog, chat.Config{MaxInputChars: cfg.Chat.MaxInputChars}, chat.WithMetrics(m))
	sessions := session.NewService(catalog)

	router := handler.NewRouter(handler.Dependencies{
		Personas:      catalog,
		Sessions:      sessions,
		Chat:          chatSvc,
		Turns:         store,
		Limiter:       middleware.NewLimiterPool(cfg.Server.SendRPS, cfg.Server.SendBurst),
		WatchInterval: cfg.Server.WatchInterval,
		Metrics:       promhttp.Handler(),
	})

	startServer(ctx, cfg.Server, router)
}

// openTable 根据配置选择聊天记录的存储后端。
func openTable(ctx context.Context, cfg config.LogStoreConfig) (logstore.Table, func(), error) {
	switch cfg.Driver {
	case config.DriverSheets:
		table, err := logstore.OpenSheets(ctx, cfg.SpreadsheetID, cfg.ServiceAccount)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("chat log: spreadsheet %s, worksheet %s", cfg.SpreadsheetID, logstore.WorksheetTitle)
		return table, func() {}, nil
	case config.DriverSQLite:
		table, err := logstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("chat log: sqlite %s", cfg.SQLitePath)
		return table, func() {
			if err := table.Close(); err != nil {
				log.Printf("warning: failed to close sqlite chat log: %v", err)
			}
		}, nil
	case config.DriverMemory:
		log.Println("chat log: in-memory, transcripts are lost on restart")
		return logstore.NewMemoryTable(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log store driver %q", cfg.Driver)
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

	log.Printf("persona chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
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
