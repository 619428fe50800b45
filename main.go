package main

import (
	"bufio"
	"net/http"
	"os"
	"strings"
	"time"

	"omnibox/internal/channels"
	"omnibox/internal/database"
	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/handlers"
	"omnibox/internal/realtime"
	"omnibox/internal/storage"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// loadEnvFile loads environment variables from a file
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // File doesn't exist, skip silently
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	}

	logrus.Debugf("Loaded environment from %s", filename)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, ngrok-skip-browser-warning")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	loadEnvFile(".env")
	loadEnvFile("env.production")
	loadEnvFile("env.local")

	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.Info("Starting omnibox server...")

	database.InitDatabase()
	store := storage.New(database.GetDB())

	hub := realtime.NewHub()

	var publisher events.Publisher
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		p, err := events.New(amqpURL, getEnv("AMQP_EXCHANGE", "omnibox.events"))
		if err != nil {
			logrus.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		publisher = p
		defer publisher.Close()
	} else {
		logrus.Warn("AMQP_URL not set, lifecycle events disabled")
		publisher = events.NewNop()
	}

	executor := flows.LogExecutor{}

	// Channel adapters.
	whatsapp := channels.NewWhatsAppAdapter(store, hub, executor, publisher)
	official := channels.NewOfficialWhatsAppAdapter(store, hub, executor, publisher)
	twilio := channels.NewTwilioWhatsAppAdapter(store, hub, executor, publisher)
	dialog360 := channels.NewDialog360Adapter(store, hub, executor, publisher)
	messenger := channels.NewMessengerAdapter(store, hub, executor, publisher)
	instagram := channels.NewInstagramAdapter(store, hub, executor, publisher)
	tiktok := channels.NewTikTokAdapter(store, hub, executor, publisher)
	email := channels.NewEmailAdapter(store, hub, executor, publisher)
	sms := channels.NewSMSAdapter(store, hub, executor, publisher)
	webchat := channels.NewWebChatAdapter(store, hub, executor, publisher)

	manager := channels.NewManager(store, hub, publisher)
	manager.Register(whatsapp)
	manager.Register(official)
	manager.Register(twilio)
	manager.Register(dialog360)
	manager.Register(messenger)
	manager.Register(instagram)
	manager.Register(tiktok)
	manager.Register(email)
	manager.Register(sms)
	manager.Register(webchat)

	// Background jobs: webchat session eviction and DB liveness.
	scheduler := cron.New()
	_, err := scheduler.AddFunc("@every 10m", func() {
		webchat.EvictStale(30 * time.Minute)
	})
	if err != nil {
		logrus.Fatalf("Failed to schedule session eviction: %v", err)
	}
	_, err = scheduler.AddFunc("@every 1m", func() {
		if err := database.CheckAndReconnect(); err != nil {
			logrus.Errorf("Database reconnect failed: %v", err)
		}
	})
	if err != nil {
		logrus.Fatalf("Failed to schedule database check: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	authHandler := handlers.NewAuthHandler()
	channelHandler := handlers.NewChannelHandler(authHandler, store, manager)
	webhookHandler := handlers.NewWebhookHandler(store, webchat, twilio, official, dialog360, messenger, instagram, tiktok, sms, email)

	r := mux.NewRouter()

	// Auth endpoints
	r.HandleFunc("/api/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/profile", authHandler.GetProfile).Methods("GET")

	// Inbox endpoints
	r.HandleFunc("/api/conversations", channelHandler.ListConversations).Methods("GET")
	r.HandleFunc("/api/conversations/{id}/messages", channelHandler.ListMessages).Methods("GET")
	r.HandleFunc("/api/conversations/{id}/reply", channelHandler.SendReply).Methods("POST")
	r.HandleFunc("/api/messages/{id}", channelHandler.DeleteMessage).Methods("DELETE")

	// Channel connection endpoints
	r.HandleFunc("/api/channels", channelHandler.CreateConnection).Methods("POST")
	r.HandleFunc("/api/channels", channelHandler.ListConnections).Methods("GET")
	r.HandleFunc("/api/channels/{type}/capabilities", channelHandler.GetCapabilities).Methods("GET")
	r.HandleFunc("/api/channels/{id}/connect", channelHandler.Connect).Methods("POST")
	r.HandleFunc("/api/channels/{id}/disconnect", channelHandler.Disconnect).Methods("POST")
	r.HandleFunc("/api/channels/{id}/status", channelHandler.ConnectionStatus).Methods("GET")
	r.HandleFunc("/api/channels/{id}/qr", channelHandler.GetQRCode(whatsapp)).Methods("GET")

	// Provider webhook endpoints
	r.HandleFunc("/webhooks/webchat", webhookHandler.WebChat).Methods("POST")
	r.HandleFunc("/webhooks/twilio/{connectionId}", webhookHandler.Twilio).Methods("POST")
	r.HandleFunc("/webhooks/whatsapp/{connectionId}", webhookHandler.CloudWhatsApp).Methods("GET", "POST")
	r.HandleFunc("/webhooks/meta/{connectionId}", webhookHandler.Meta).Methods("GET", "POST")
	r.HandleFunc("/webhooks/tiktok/{connectionId}", webhookHandler.TikTok).Methods("POST")
	r.HandleFunc("/webhooks/sms/{connectionId}", webhookHandler.SMS).Methods("POST")
	r.HandleFunc("/webhooks/email/{connectionId}", webhookHandler.Email).Methods("POST")

	// Realtime websocket endpoint
	r.HandleFunc("/ws", hub.HandleWS)

	// Health check endpoint
	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","message":"Backend is running"}`))
	}).Methods("GET")

	handler := corsMiddleware(r)

	port := getEnv("PORT", "9090")
	logrus.Infof("Omnibox backend started on :%s", port)
	logrus.Fatal(http.ListenAndServe(":"+port, handler))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
