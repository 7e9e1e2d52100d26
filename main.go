package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"genui-canvas/canvas"
	"genui-canvas/core"
	"genui-canvas/generation"
	"genui-canvas/handlers/api/boards"
	"genui-canvas/handlers/api/openai"
	"genui-canvas/handlers/auth"
	"genui-canvas/handlers/websocket"
	authMiddleware "genui-canvas/middleware"
	"genui-canvas/stores"
	"genui-canvas/workspace"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type RoomInfo struct {
	ID    string `json:"id"`
	Users int    `json:"users"`
}

func setupRouter(store core.BoardStore, ws *workspace.Workspace, client *generation.Client, hub *websocket.Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/v2", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Route("/boards", func(r chi.Router) {
				boards.Routes(r, store, ws)
			})
			r.Post("/ask", openai.HandleAsk(client, ws))
		})
	})

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms := hub.Rooms()
		list := make([]RoomInfo, 0, len(rooms))
		for id, users := range rooms {
			list = append(list, RoomInfo{ID: id, Users: users})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Users == list[j].Users {
				return list[i].ID < list[j].ID
			}
			return list[i].Users > list[j].Users
		})
		render.JSON(w, r, list)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	r.Mount("/socket.io/", hub.Server().ServeHandler(nil))
	return r
}

// autosave persists dirty boards every interval until ctx ends.
func autosave(ctx context.Context, ws *workspace.Workspace, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.PersistAll(ctx); err != nil {
				logrus.WithError(err).Warn("Autosave failed")
			}
		}
	}
}

func waitForShutdown() {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s).Info("Shutting down...")
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	autosaveEvery := flag.Duration("autosave", 30*time.Second, "How often dirty boards are persisted; 0 disables.")
	screenW := flag.Float64("screen-width", 1920, "Viewport width of server-side canvases.")
	screenH := flag.Float64("screen-height", 1080, "Viewport height of server-side canvases.")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth.InitAuth()
	store := stores.GetStore(ctx)
	client := generation.NewClient(generation.ConfigFromEnv())
	ws := workspace.New(ctx, store, client, workspace.Config{
		Screen: core.Vec{X: *screenW, Y: *screenH},
		Canvas: canvas.Config{Measurer: canvas.DefaultMeasurer},
	})
	hub := websocket.NewHub(ws)

	srv := &http.Server{
		Addr:    *listenAddress,
		Handler: setupRouter(store, ws, client, hub),
	}

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()
	if *autosaveEvery > 0 {
		go autosave(ctx, ws, *autosaveEvery)
	}

	waitForShutdown()

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	cancel()
	if err := ws.Close(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Failed to persist boards on shutdown")
	}
	if closer, ok := store.(io.Closer); ok {
		closer.Close()
	}
	logrus.Info("Server stopped")
}
