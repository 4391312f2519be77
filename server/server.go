package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SyncFM/cache"
	"SyncFM/config"
	"SyncFM/core/room"
	"SyncFM/db"
	"SyncFM/logger"
	"SyncFM/model"
	"SyncFM/repository"

	"github.com/gorilla/mux"
)

// Start initializes all subsystems and runs the HTTP server until SIGINT/SIGTERM.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogOutputPath,
	})

	// Connect to MySQL and migrate the schema
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", logger.ErrorField(err))
	}

	// Redis 不可用时降级为纯内存模式，快照缓存与在线统计关闭
	var roomCache *cache.RoomCache
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("redis unavailable, running without room cache", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		roomCache = cache.NewRoomCache()
	}

	store := repository.NewGormCollectionStore(db.GormDB)
	tracks := repository.NewGormTrackRepository(db.GormDB)

	ctx := context.Background()
	if err := seedCollections(ctx, store, cfg.RoomCount); err != nil {
		logger.Fatal("failed to seed collections", logger.ErrorField(err))
	}

	// 时钟随进程重置，上一轮进程的缓存快照和心跳作废
	if roomCache != nil {
		for n := 1; n <= cfg.RoomCount; n++ {
			if err := roomCache.ClearRoom(ctx, room.RoomIDForNumber(n)); err != nil {
				logger.Warn("failed to clear stale room cache", logger.ErrorField(err))
			}
		}
	}

	registry := room.NewRoomRegistry(cfg.RoomCount)
	hub := room.NewHub(registry)
	controller := room.NewSyncController(registry, store, tracks, hub, roomCache, room.Options{
		PlayBuffer:    time.Duration(cfg.PlayBufferMs) * time.Millisecond,
		CheckInterval: time.Duration(cfg.SyncCheckInterval) * time.Millisecond,
		MaxDrift:      time.Duration(cfg.MaxDriftMs) * time.Millisecond,
	})
	hub.SetDisconnectHandler(func(clientID string) {
		controller.LeaveRoom(context.Background(), clientID)
	})

	go hub.Run()
	controller.Start()

	roomHandler := NewRoomHandler(registry, controller, hub, roomCache)
	trackHandler := NewTrackHandler(tracks)
	collectionHandler := NewCollectionHandler(store)

	router := mux.NewRouter()

	// CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 房间
	router.HandleFunc("/api/rooms", roomHandler.ListRoomsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{id}/state", roomHandler.RoomStateHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", roomHandler.WebSocketHandler)

	// 曲库
	router.HandleFunc("/api/tracks", trackHandler.ListTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", trackHandler.CreateTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}", trackHandler.GetTrackHandler).Methods(http.MethodGet)

	// 有序集合
	router.HandleFunc("/api/collections", collectionHandler.CreateCollectionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/collections/{id}", collectionHandler.GetCollectionHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/collections/{id}", collectionHandler.DeleteCollectionHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/collections/{id}/entries", collectionHandler.InsertEntryHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/collections/{id}/entries", collectionHandler.RemoveEntryHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/collections/{id}/entries/position", collectionHandler.MoveEntryHandler).Methods(http.MethodPut)
	router.HandleFunc("/api/collections/{id}/entries/clear", collectionHandler.ClearEntriesHandler).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			logger.String("addr", server.Addr),
			logger.Int("rooms", cfg.RoomCount))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	controller.Shutdown()
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

// seedCollections 保证内建集合和每个房间的歌单集合存在
func seedCollections(ctx context.Context, store repository.CollectionStore, roomCount int) error {
	if err := store.EnsureCollection(ctx, model.LibraryCollectionID, model.CollectionTypeLibrary, "Library"); err != nil {
		return fmt.Errorf("ensure library collection: %w", err)
	}
	if err := store.EnsureCollection(ctx, model.QueueCollectionID, model.CollectionTypePlaylist, "Shared Queue"); err != nil {
		return fmt.Errorf("ensure queue collection: %w", err)
	}
	for n := 1; n <= roomCount; n++ {
		id := room.RoomIDForNumber(n)
		name := fmt.Sprintf("Room %d Playlist", n)
		if err := store.EnsureCollection(ctx, id, model.CollectionTypePlaylist, name); err != nil {
			return fmt.Errorf("ensure room playlist %s: %w", id, err)
		}
	}
	return nil
}
