package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pawmart/db"
	"pawmart/globals"
	"pawmart/hub"
	"pawmart/metrics"
	"pawmart/mq"
	"pawmart/ratelim"
	"pawmart/rdx"
	"pawmart/routes"

	"github.com/joho/godotenv"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

// securityHeaders applies a set of recommended HTTP security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// XSS, content sniffing, framing
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		// HSTS (must be on HTTPS)
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request method, path, remote address, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s from %s - %v", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// load .env if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}

	port := getenv("PORT", ":8080")
	if port[0] != ':' {
		port = ":" + port
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		globals.JwtSecret = []byte(secret)
	} else {
		log.Println("JWT_SECRET not set; using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// message store: MongoDB when configured, memory otherwise
	var store hub.MessageStore = hub.NewMemoryStore()
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		client, err := db.Connect(ctx, uri)
		if err != nil {
			log.Fatalf("MongoDB: %v", err)
		}
		defer client.Disconnect(context.Background())
		ms := db.NewMessageStore(db.MessagesCollection)
		if err := ms.EnsureIndexes(ctx); err != nil {
			log.Printf("MongoDB indexes: %v", err)
		}
		store = ms
	}

	srvMetrics := metrics.NewServerMetrics(nil)
	opts := hub.Options{Metrics: srvMetrics}

	// cross-instance fan-out when Redis is configured
	var bus *mq.RedisBus
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		conn, err := rdx.Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"))
		if err != nil {
			log.Fatalf("Redis: %v", err)
		}
		defer conn.Close()
		bus = mq.NewRedisBus(conn, os.Getenv("REDIS_CHANNEL"))
		opts.Bus = bus
	}

	chatHub := hub.NewHub(store, opts)
	go chatHub.Run()
	if bus != nil {
		go func() {
			if err := bus.Run(ctx, chatHub); err != nil {
				log.Printf("mq: %v", err)
			}
		}()
	}

	rateLimiter := ratelim.NewRateLimiter(120, 20)
	router := httprouter.New()
	routes.RoutesWrapper(router, chatHub, rateLimiter, srvMetrics)

	// CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(getenv("ALLOWED_ORIGINS", "*"), ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(router)

	handler := loggingMiddleware(securityHeaders(corsHandler))

	// no WriteTimeout: it would cut long-lived websocket connections
	server := &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Println("Shutting down chat hub...")
		chatHub.Stop()
	})

	go func() {
		log.Printf("Server listening on %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutdown signal received; shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Graceful shutdown failed: %v", err)
	}
	log.Println("Server stopped cleanly")
}
