package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mkoppen/pulse/internal/server/api"
	"github.com/mkoppen/pulse/internal/server/config"
	"github.com/mkoppen/pulse/internal/server/database"
	"github.com/mkoppen/pulse/internal/server/funcs"
	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/internal/server/websocket"
	"github.com/mkoppen/pulse/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	// Set Gin mode
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open database
	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(db.DB)
	if err := seedDefaultChannel(st); err != nil {
		logger.Warnf("Failed to seed default channel: %v", err)
	}

	// Initialize JWT manager
	jwtManager, err := api.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		logger.Errorf("Failed to create JWT manager: %v", err)
		os.Exit(1)
	}

	// Register chat functions
	registry := funcs.NewRegistry()
	if err := funcs.RegisterChat(registry); err != nil {
		logger.Errorf("Failed to register functions: %v", err)
		os.Exit(1)
	}

	// Initialize the sync server
	logger.Infof("Initializing sync server...")
	presence := store.NewPresence(time.Now)
	syncServer := websocket.NewServer(st, presence, registry, jwtManager)
	defer syncServer.Close()

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	// Logging middleware
	router.Use(api.LoggingMiddleware())

	// Root endpoint - returns plain text for client validation
	router.GET("/", func(c *gin.Context) {
		c.String(200, "Welcome to Pulse Server!")
	})

	authHandler := api.NewAuthHandler(st, jwtManager)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth", authHandler.PostAuth)
		v1.GET("/me", api.AuthMiddleware(jwtManager), authHandler.GetMe)
		v1.GET("/healthz", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})
	}

	// Mount the sync socket (handshake carries its own token)
	router.Any(websocket.SyncPath, syncServer.HandleSocketIO())
	router.Any(websocket.SyncPath+"/*any", syncServer.HandleSocketIO())

	logger.Infof("Pulse Server starting on http://localhost%s", cfg.Addr)
	logger.Infof("Database: %s", cfg.DatabasePath)

	if err := router.Run(cfg.Addr); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}

// seedDefaultChannel makes sure the "general" channel exists so fresh
// clients always have somewhere to land.
func seedDefaultChannel(st *store.Store) error {
	ctx := context.Background()

	if _, err := st.GetChannelByName(ctx, "general"); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	system, err := st.GetAccountByHandle(ctx, "system")
	if errors.Is(err, store.ErrNotFound) {
		hash, err := store.HashSecret(uuid.NewString())
		if err != nil {
			return err
		}
		system = store.Account{
			ID:         uuid.NewString(),
			Handle:     "system",
			SecretHash: hash,
			CreatedAt:  time.Now(),
		}
		if err := st.CreateAccount(ctx, system); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return st.CreateChannel(ctx, store.Channel{
		ID:        uuid.NewString(),
		Name:      "general",
		CreatedBy: system.ID,
		CreatedAt: time.Now(),
	})
}
