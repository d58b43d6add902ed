package main

import (
	"log"
	"net/http"

	"github.com/appliflow/appliflow/internal/config"
	"github.com/appliflow/appliflow/internal/httpapi"
	"github.com/appliflow/appliflow/internal/identity"
	"github.com/appliflow/appliflow/internal/reconcile"
	"github.com/appliflow/appliflow/internal/recordstore"
	"github.com/appliflow/appliflow/internal/resend"
	"github.com/appliflow/appliflow/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := recordstore.BuildStoreFromDSN(cfg.RecordStoreDSN)
	if err != nil {
		log.Fatalf("failed to initialize record store: %v", err)
	}
	defer store.Close()

	client := resend.NewClient(resend.ClientOptions{
		BaseURL:          cfg.ResendBaseURL,
		APIKey:           cfg.ResendAPIKey,
		ThrottleInterval: cfg.ThrottleInterval,
	})
	matcher := identity.NewMatcher(cfg.ExtraWebmailDomains)

	engine := reconcile.NewEngine(reconcile.Options{
		Store:    store,
		Source:   client,
		Matcher:  matcher,
		Owner:    cfg.OwnerID,
		Provider: cfg.Provider,
	})
	processor := webhook.NewProcessor(webhook.ProcessorOptions{
		Store:      store,
		Source:     client,
		Matcher:    matcher,
		Owner:      cfg.OwnerID,
		Provider:   cfg.Provider,
		OwnDomains: cfg.OwnDomains,
	})

	server := httpapi.NewServer(engine, processor, client, httpapi.ServerConfig{
		WebhookSecret: cfg.WebhookSecret,
	})

	log.Printf("appliflow listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
