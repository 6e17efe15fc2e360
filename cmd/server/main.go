package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sketchwall/backend/internal/api"
	"github.com/sketchwall/backend/internal/autosave"
	"github.com/sketchwall/backend/internal/db"
	"github.com/sketchwall/backend/internal/discovery"
	"github.com/sketchwall/backend/internal/session"
	"github.com/sketchwall/backend/internal/ws"
)

func main() {
	// .env is optional; real deployments use plain env vars.
	_ = godotenv.Load()

	dbPath := os.Getenv("BOARD_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/sketchwall.db"
	}

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	sess := session.New()

	saverConfig := autosave.DefaultConfig()
	if v := os.Getenv("AUTOSAVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid AUTOSAVE_INTERVAL %q: %v", v, err)
		}
		saverConfig.Interval = d
	}
	saver := autosave.New(database, sess, saverConfig)
	saver.Start()
	defer saver.Stop()

	apiHandler := api.New(sess, database)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(sess, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/users", apiHandler.UsersHandler)
	http.HandleFunc("/api/boards", apiHandler.BoardsRouter)
	http.HandleFunc("/api/boards/", apiHandler.BoardsRouter)
	http.HandleFunc("/api/export.pdf", apiHandler.ExportLiveHandler)

	handler := corsMiddleware(http.DefaultServeMux)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if os.Getenv("ENABLE_MDNS") == "1" {
		portNum, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("Invalid PORT %q: %v", port, err)
		}
		mdnsServer, err := discovery.Advertise(portNum)
		if err != nil {
			log.Printf("⚠️ mDNS advertisement failed: %v", err)
		} else {
			defer mdnsServer.Shutdown()
			log.Println("📡 Advertising on the LAN via mDNS")
		}
	}

	server := &http.Server{Addr: ":" + port, Handler: handler}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-sigChan:
			log.Println("Shutting down server...")
		case <-sess.Done():
			log.Println("Board closed by admin, shutting down...")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🎨 Sketchwall server starting on :%s", port)
	log.Printf("📁 Database: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Users:     GET /api/users")
	log.Println("  - Boards:    GET/POST /api/boards")
	log.Println("  - Board:     GET/DELETE /api/boards/{id}")
	log.Println("  - Restore:   POST /api/boards/{id}/restore")
	log.Println("  - Export:    GET /api/boards/{id}/export.pdf, GET /api/export.pdf")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
