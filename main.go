package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Ameobea/quavertrack/handlers"
	"github.com/Ameobea/quavertrack/models"
	"github.com/Ameobea/quavertrack/services"
	"github.com/Ameobea/quavertrack/utils"
	"github.com/Ameobea/quavertrack/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOriginsString,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Update-Token",
		MaxAge:       86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Map{},
		&models.Score{},
		&models.StatsUpdate{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if utils.R2Enabled() {
		log.Println("✅ Avatar mirroring to R2 enabled")
	} else {
		log.Println("⚠️  R2 not configured, avatar mirroring disabled")
	}

	quaverClient := services.NewQuaverClient()
	syncService := services.NewSyncService(db, quaverClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional in-process batch sync; deployments that drive
	// /api/update_oldest from external cron just leave this unset.
	if rawInterval := os.Getenv("BATCH_UPDATE_INTERVAL"); rawInterval != "" {
		interval, err := time.ParseDuration(rawInterval)
		if err != nil {
			log.Fatalf("invalid BATCH_UPDATE_INTERVAL %q: %v", rawInterval, err)
		}
		batchWorker := workers.NewBatchUpdateWorker(syncService, interval)
		go batchWorker.Start(ctx)
	}

	handlers.SetupSyncRoutes(app, syncService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5450"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
}
