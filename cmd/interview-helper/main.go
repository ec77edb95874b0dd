package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"interviewhelper/internal/analysis"
	"interviewhelper/internal/auth"
	"interviewhelper/internal/config"
	"interviewhelper/internal/gdrive"
	"interviewhelper/internal/llm"
	"interviewhelper/internal/pipeline"
	"interviewhelper/internal/server"
	"interviewhelper/internal/session"
	"interviewhelper/internal/signaling"
	"interviewhelper/internal/storage"
	"interviewhelper/internal/transcribe"
)

func main() {
	log.Println("interview-helper: starting")

	configPath := envOrDefault("INTERVIEW_HELPER_CONFIG", "config.yaml")
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	tickets := auth.NewStore(
		auth.WithExpiration(cfg.ParsedTicketExpiration()),
		auth.WithRateLimit(cfg.TicketRateLimit, cfg.ParsedTicketRateWindow()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() { _ = store.Close() }()

	analyzer := analysis.New(cfg.AnalysisModel, func(provider, model string) (llm.Client, error) {
		key := providerKey(&cfg, provider)
		if key == "" {
			return nil, fmt.Errorf("no API key configured for provider %q", provider)
		}
		return llm.NewClient(provider, key, model)
	})

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	manager := session.NewManager(session.Deps{
		Tickets: tickets,
		Store:   store,
		NewTranscriber: func() (pipeline.Transcriber, error) {
			return transcribe.NewDeepgram(ctx, transcribe.DeepgramOptions{
				APIKey:   cfg.DeepgramAPIKey,
				Model:    cfg.DeepgramModel,
				Language: cfg.DeepgramLanguage,
			})
		},
		Analyzer:     analyzer,
		NewTransport: signaling.NewWebRTCFactory(iceServers),
		Pipeline: pipeline.Config{
			FrameQueueSize:        cfg.FrameQueueSize,
			AnalysisMinChars:      cfg.AnalysisMinChars,
			AnalysisMinInterval:   cfg.ParsedAnalysisMinInterval(),
			TranscriptWindowBytes: cfg.TranscriptWindowBytes,
		},
	})

	// TODO: verify against a real identity provider; until one is wired the
	// bearer token is treated as the opaque user id.
	verifier := server.VerifierFunc(func(r *http.Request) (string, error) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return "", errors.New("missing bearer token")
		}
		return token, nil
	})

	handler := server.Handler(tickets, store, manager, verifier)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		log.Printf("interview-helper: listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive backup disabled: %v", syncErr)
		} else {
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						date := time.Now().UTC().Format("2006-01-02")
						if err := syncer.Backup(cfg.DBPath, date); err != nil {
							log.Printf("gdrive backup error: %v", err)
						}
					}
				}
			}()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("interview-helper: shutting down")
	cancel()
	manager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func providerKey(cfg *config.Config, provider string) string {
	switch provider {
	case "openai":
		return cfg.OpenAIAPIKey
	case "anthropic":
		return cfg.AnthropicAPIKey
	case "gemini":
		return cfg.GeminiAPIKey
	default:
		return ""
	}
}
