package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/StudentTechUsher/plangen-backend/internal/db"
	"github.com/StudentTechUsher/plangen-backend/internal/handlers"
	"github.com/StudentTechUsher/plangen-backend/internal/jobs/pipeline/plan_build"
	"github.com/StudentTechUsher/plangen-backend/internal/jobs/runtime"
	"github.com/StudentTechUsher/plangen-backend/internal/jobs/worker"
	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/middleware"
	"github.com/StudentTechUsher/plangen-backend/internal/repos"
	"github.com/StudentTechUsher/plangen-backend/internal/server"
	"github.com/StudentTechUsher/plangen-backend/internal/services"
	"github.com/StudentTechUsher/plangen-backend/internal/sse"
	"github.com/StudentTechUsher/plangen-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	port := utils.GetEnv("PORT", "8080", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	jobRepo := repos.NewGenerationJobRepo(thePG, log)
	eventRepo := repos.NewJobEventRepo(thePG, log)
	planRepo := repos.NewAcademicPlanRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)
	notifier := services.NewJobNotifier(sseHub)

	// Services
	log.Info("Setting up Services from main...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	executor := services.NewPhaseExecutor(log, openaiClient)
	validator := services.NewPlanValidator(log)
	planStore := services.NewPlanStore(log, planRepo)
	jobService := services.NewJobService(log, jobRepo, eventRepo, notifier)

	// Job pipeline + worker
	registry := runtime.NewRegistry()
	if err := registry.Register(plan_build.New(log, executor, validator, planStore)); err != nil {
		log.Error("Could not register plan_build pipeline", "error", err)
		os.Exit(1)
	}
	jobWorker := worker.NewWorker(log, jobRepo, eventRepo, registry, notifier)
	jobWorker.Start(context.Background())

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware: middleware.NewAuthMiddleware(log, jwtSecretKey),
		JobsHandler:    handlers.NewJobsHandler(jobService, jobWorker),
		PlansHandler:   handlers.NewPlansHandler(planStore),
		SSEHandler:     handlers.NewSSEHandler(log, sseHub),
	})

	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
