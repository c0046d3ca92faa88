package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spaceport/backend/docs"
	"github.com/spaceport/backend/internal/database"
	"github.com/spaceport/backend/internal/handlers"
	mW "github.com/spaceport/backend/internal/middleware"
	"github.com/spaceport/backend/internal/models"
	"github.com/spaceport/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Spaceport API
// @version 1.0
// @description Membership management and payment reconciliation for the makerspace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("paypal.receiver", "PAYPAL_RECEIVER")
	viper.BindEnv("paypal.verify_url", "PAYPAL_VERIFY_URL")
	viper.BindEnv("square.merchant_id", "SQUARE_MERCHANT_ID")
	viper.BindEnv("square.location_id", "SQUARE_LOCATION_ID")
	viper.BindEnv("reconcile.currency", "RECONCILE_CURRENCY")

	viper.SetDefault("reconcile.currency", "CAD")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Spaceport API"
	docs.SwaggerInfo.Description = "Membership management and payment reconciliation for the makerspace"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	hintService := services.NewHintService(db)
	memberService := services.NewMemberService(db, ledgerService)
	trainingService := services.NewTrainingService(db)
	alertService := services.NewAlertService(redisClient)
	protocoinService := services.NewProtocoinService(db, ledgerService)
	cardService := services.NewAccessCardService(db, redisClient)
	authService := services.NewAuthService(db, redisClient)

	paypalVerifier := services.NewPayPalVerifier()
	squareVerifier := services.NewSquareVerifier()

	currency := viper.GetString("reconcile.currency")
	providers := map[string]services.ProviderConfig{
		models.AccountPayPal: {
			CompletedStatus: "Completed",
			Receiver:        viper.GetString("paypal.receiver"),
			Currency:        currency,
			Verify: func(pn *services.PaymentNotification) bool {
				return paypalVerifier.Verify(pn.Raw)
			},
		},
		models.AccountSquare: {
			CompletedStatus: "COMPLETED",
			Receiver:        viper.GetString("square.merchant_id"),
			Currency:        currency,
			Verify: func(pn *services.PaymentNotification) bool {
				var n services.SquareNotification
				if err := json.Unmarshal(pn.Raw, &n); err != nil {
					return false
				}
				return squareVerifier.Accepts(&n)
			},
		},
	}

	reconcileService := services.NewReconcileService(db, ledgerService, hintService,
		memberService, trainingService, alertService, providers)
	webhookHandler := handlers.NewWebhookHandler(reconcileService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for the member guide
	r.Handle("/guide/*", http.StripPrefix("/guide/",
		mW.StaticFileServer("./static/guide")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Provider webhooks authenticate themselves (IPN echo / structural
		// checks), not with portal tokens.
		r.Post("/webhooks/paypal", webhookHandler.HandlePayPal)
		r.Post("/webhooks/square", webhookHandler.HandleSquare)

		// Door controllers hold no portal token either; passes are
		// single-use and short-lived.
		r.Post("/door/verify-pass", cardService.VerifyDoorPass)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Member endpoints
			r.Post("/members", memberService.CreateMember)
			r.Get("/members", memberService.ListMembers)
			r.Get("/members/{memberId}", memberService.GetMember)
			r.Post("/members/{memberId}/pause", memberService.PauseMember)
			r.Post("/members/{memberId}/unpause", memberService.UnpauseMember)
			r.Post("/members/{memberId}/retally", memberService.RetallyMember)

			// Ledger endpoints
			r.Get("/members/{memberId}/transactions", ledgerService.ListMemberTransactions)
			r.Get("/transactions/reported", ledgerService.ListReported)
			r.Get("/transactions/summary", ledgerService.GetMonthlySummary)

			// Protocoin endpoints
			r.Get("/protocoin/{memberId}/balance", protocoinService.BalanceEnquiry)
			r.Post("/protocoin/{memberId}/transfer", protocoinService.SendTransfer)
			r.Post("/protocoin/{memberId}/spend", protocoinService.SendSpend)

			// Training endpoints
			r.Post("/training/registrations", trainingService.CreateRegistration)
			r.Get("/training/sessions/{sessionId}/registrations", trainingService.ListSessionRegistrations)
			r.Put("/training/registrations/{registrationId}/attendance", trainingService.UpdateAttendance)

			// Access card endpoints
			r.Post("/cards", cardService.AssignCard)
			r.Get("/members/{memberId}/cards", cardService.ListMemberCards)
			r.Put("/cards/{cardId}/block", cardService.BlockCard)
			r.Put("/cards/{cardId}/reinstate", cardService.ReinstateCard)
			r.Post("/members/{memberId}/door-pass", cardService.GenerateDoorPass)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Println("Server starting on :" + port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
