package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"social-rewards-system/config"
	"social-rewards-system/handlers"
	"social-rewards-system/lock"
	"social-rewards-system/middleware"
	"social-rewards-system/models"
	"social-rewards-system/services"
	"social-rewards-system/utils"
	"social-rewards-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, reading environment variables directly")
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}
	initLogging(env)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// Only gateway requests allowed, no exceptions.
	app.Use(middleware.GatewayAuthMiddleware())
	app.Use(requestid.New())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		log.Warn().Msg("ALLOWED_ORIGINS not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Engagement{},
		&models.PointTransaction{},
		&models.Contest{},
		&models.ContestEntry{},
		&models.ContestQualification{},
		&models.ContestReward{},
		&models.VerificationCode{},
		&models.PlatformLink{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	locks := lock.NewManager(rdb)

	rulesPath := os.Getenv("RULES_PATH")
	if rulesPath == "" {
		rulesPath = "./rules.yaml"
	}
	// Schema validation failure is fatal: a misconfigured rule table must
	// never be silently defaulted.
	rules, err := config.Load(rulesPath, env)
	if err != nil {
		log.Fatal().Err(err).Msg("engagement rule configuration invalid")
	}

	var reports services.ReportUploader
	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		reports = utils.R2ReportStore{}
	} else {
		log.Warn().Msg("R2_BUCKET_NAME not set, settlement reports disabled")
	}

	engagementService := services.NewEngagementService(db, rules)
	rewardService := services.NewRewardService(db, rules, reports)
	contestService := services.NewContestService(db, locks, rules, rewardService)
	verificationService := services.NewVerificationService(db)
	statsService := services.NewStatsService(db)

	identityServiceURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityServiceURL == "" {
		log.Fatal().Msg("IDENTITY_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("REWARDS_SERVICE_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker := workers.NewIdentitySyncWorker(db, identityServiceURL, "/api/v1/public/profiles", serviceToken)
	syncWorker.Start(ctx)

	sweeper := workers.NewExpirySweeper(rewardService, verificationService)
	go workers.PollExpiry(ctx, sweeper, 1*time.Minute)

	contestService.StartLifecycleScheduler()

	handlers.SetupEngagementRoutes(app, engagementService, statsService)
	handlers.SetupContestRoutes(app, contestService, rewardService, rules, locks)
	handlers.SetupVerificationRoutes(app, verificationService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("env", env).Msg("✅ rewards service running on http://localhost:5300")
	log.Info().Msg("✅ identity sync worker running")
	log.Info().Msg("✅ expiry sweeper running (every 1m)")
	log.Info().Msg("✅ contest lifecycle scheduler running (every 1m)")

	<-ctx.Done()
	log.Info().Msg("shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func initLogging(env string) {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	zerolog.SetGlobalLevel(level)
	if env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}
