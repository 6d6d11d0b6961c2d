// Command gateway runs the market-data and paper-trading gateway: it
// accepts client WebSocket sessions, multiplexes provider ticks, resolves
// per-session symbol universes, and persists simulated order fills.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ndrandal/tradegate/internal/api"
	"github.com/ndrandal/tradegate/internal/archive"
	"github.com/ndrandal/tradegate/internal/config"
	"github.com/ndrandal/tradegate/internal/fillstore"
	"github.com/ndrandal/tradegate/internal/instrument"
	"github.com/ndrandal/tradegate/internal/mongostore"
	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/session"
	"github.com/ndrandal/tradegate/internal/tokenstore"
	"github.com/ndrandal/tradegate/internal/universe"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := mongostore.New(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("gateway: connect to mongo: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("gateway: migrate indexes: %v", err)
	}

	tokens := tokenstore.New(store)

	fills, err := fillstore.New(ctx, store)
	if err != nil {
		log.Fatalf("gateway: construct fill store: %v", err)
	}

	master := instrument.New(cfg.InstrumentCSVPath)
	if err := master.Load(); err != nil {
		log.Fatalf("gateway: load instrument master: %v", err)
	}

	watchlists, err := config.LoadWatchlists(cfg.WatchlistsPath)
	if err != nil {
		log.Fatalf("gateway: load watchlists: %v", err)
	}
	resolver := universe.NewResolver(watchlists, master)

	providerCfg := provider.Config{
		Active: provider.Name(cfg.ActiveProvider),
		Mock: provider.MockConfig{
			BasePrice:       cfg.MockBasePrice,
			MaxDeviation:    cfg.MockMaxDeviation,
			Volatility:      cfg.MockVolatility,
			MeanReversion:   cfg.MockMeanReversion,
			IntervalSeconds: cfg.MockIntervalSecs,
			VolumeMin:       cfg.MockVolumeMin,
			VolumeMax:       cfg.MockVolumeMax,
			Seed:            cfg.MockSeed,
		},
		RestA: provider.RestPollAConfig{
			Mobile:     cfg.RestAMobile,
			UCC:        cfg.RestAUCC,
			MPIN:       cfg.RestAMPIN,
			TOTPSecret: cfg.RestATOTPSecret,
			BaseURL:    cfg.RestABaseURL,
		},
		RestB: provider.RestPollBConfig{
			APIKey:      cfg.RestBAPIKey,
			APISecret:   cfg.RestBAPISecret,
			Token:       cfg.RestBToken,
			AuthCode:    cfg.RestBAuthCode,
			RedirectURI: cfg.RestBRedirectURI,
			BaseURL:     cfg.RestBBaseURL,
		},
		TokenStore: tokens,
		Instrument: master,
	}

	newProvider := func(override string) (provider.Provider, error) {
		return provider.New(providerCfg, provider.Name(override))
	}

	listener := session.NewListener(
		newProvider, fills, resolver, tokens,
		cfg.RestBAPIKey, cfg.RestBAPISecret, cfg.RestBRedirectURI, cfg.OAuthAuthorizeURL,
		cfg.OAuthStateTTLSecs,
	)
	apiHandler := api.New(fills)

	if cfg.ArchiveDir != "" {
		arc := archive.New(store.DB(), cfg.ArchiveDir, cfg.ArchiveMaxGB, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours)
		go arc.Run(ctx)
	}
	go fills.RunRetention(ctx, cfg.FillRetentionDays)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", listener.Health)
	mux.HandleFunc("/backtest", listener.Backtest)
	mux.HandleFunc("/provider/auth", listener.Auth)
	mux.HandleFunc("/provider/callback", listener.Callback)
	mux.HandleFunc("/paper/orders", apiHandler.Orders)
	mux.HandleFunc("/paper/stats", apiHandler.Stats)
	mux.Handle("/ws", listener.SessionHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("gateway: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway: serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway: shutdown: %v", err)
	}
}
