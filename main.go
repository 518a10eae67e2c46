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

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/pliu/banter/internal/auth"
	"github.com/pliu/banter/internal/blob"
	"github.com/pliu/banter/internal/broadcast"
	"github.com/pliu/banter/internal/config"
	"github.com/pliu/banter/internal/handlers"
	"github.com/pliu/banter/internal/middleware"
	"github.com/pliu/banter/internal/service"
	"github.com/pliu/banter/internal/store"
	"github.com/pliu/banter/internal/store/mongostore"
	"github.com/pliu/banter/internal/store/sqlstore"
	"github.com/pliu/banter/internal/ws"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if cfg.SessionSecret == config.DevSessionSecret {
		log.Println("SESSION_SECRET not set, using the development key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	hub := ws.NewHub(st)
	go hub.Run(ctx)

	// A single node publishes straight into its hub. With Redis every node
	// publishes to Redis and feeds its hub from the subscription.
	var pub broadcast.Publisher = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		bus := broadcast.NewRedisBus(rdb)
		closeSub, err := bus.Subscribe(ctx, hub.Deliver)
		if err != nil {
			log.Fatal(err)
		}
		defer closeSub()
		pub = bus
	}

	blobs, err := blob.NewDiskStore(cfg.VoiceDir, "/voices", cfg.MaxVoiceBytes)
	if err != nil {
		log.Fatal(err)
	}

	svc := service.New(st, pub, blobs, service.Options{
		StoreTimeout:     cfg.StoreTimeout,
		BroadcastTimeout: cfg.BroadcastTimeout,
	})
	signer := auth.NewSigner(cfg.SessionSecret, cfg.SessionTTL)

	authHandler := &handlers.AuthHandler{Service: svc, Signer: signer}
	chatHandler := &handlers.ChatHandler{Service: svc}
	messageHandler := &handlers.MessageHandler{Service: svc, MaxVoiceBytes: cfg.MaxVoiceBytes}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)

	// API Endpoints
	r.HandleFunc("/api/auth", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/search", authHandler.FindUser).Methods("POST")
	r.HandleFunc("/api/users/search", authHandler.SearchUsers).Methods("GET")
	r.HandleFunc("/api/chat/list", chatHandler.ListChats).Methods("GET")
	r.HandleFunc("/api/chat", chatHandler.GetOrCreateChat).Methods("POST")
	r.HandleFunc("/api/group/create", chatHandler.CreateGroup).Methods("POST")
	r.HandleFunc("/api/group/rename", chatHandler.RenameGroup).Methods("POST")
	r.HandleFunc("/api/messages", messageHandler.ListMessages).Methods("GET")
	r.HandleFunc("/api/messages", messageHandler.SendMessage).Methods("POST")
	r.HandleFunc("/api/messages/voice", messageHandler.SendVoice).Methods("POST")
	r.HandleFunc("/api/messages/seen", messageHandler.MarkSeen).Methods("POST")
	r.HandleFunc("/api/messages/{id}", messageHandler.DeleteMessage).Methods("DELETE")
	r.HandleFunc("/api/typing", messageHandler.SetTyping).Methods("POST")
	r.HandleFunc("/health", handlers.Health(st)).Methods("GET")

	// WebSocket Endpoint
	r.Handle("/ws", middleware.AuthMiddleware(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _ := middleware.Username(r.Context())
		ws.ServeWs(hub, w, r, username)
	}))).Methods("GET")

	r.PathPrefix("/voices/").Handler(http.StripPrefix("/voices/", http.FileServer(http.Dir(cfg.VoiceDir))))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Println("Starting server on", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.DBDriver == "mongo" {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return mongostore.New(ctx, cfg.DatabaseURL, cfg.MongoDB)
	}
	return sqlstore.New(cfg.DBDriver, cfg.DatabaseURL)
}
