package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"payments/internal/api"
	"payments/internal/api/middleware"
	"payments/internal/app"
	"payments/internal/worker"
)

var App *app.App

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(429, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
}

func ApiInit() { // Run Api Server
	App = app.Init()
	router := gin.Default()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// This makes it so each ip can only make 100 requests per second
	store := ratelimit.RedisStore(&ratelimit.RedisOptions{
		RedisClient: redis.NewClient(&redis.Options{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       1,
		}),
		Rate:  time.Second,
		Limit: 100,
	})
	mw := ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://0.0.0.0:3000",
			"http://localhost:3000",
		},
		AllowHeaders:  []string{"Origin", "Access-Control-Allow-Origin", "Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		AllowMethods:  []string{"GET, POST, OPTIONS, PUT, DELETE"},
		MaxAge:        24 * time.Hour,
	}))
	router.Use(func(c *gin.Context) {
		c.Set("app", App)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	webhooks := router.Group("/webhooks/")
	{
		// Card provider pushes here; no rate limit, delivery is bursty.
		webhooks.POST("/card", api.CardWebhook)
		webhooks.POST("/card/", api.CardWebhook)
	}
	tx := router.Group("/tx/").Use(middleware.Auth())
	{
		tx.POST("/card", mw, api.CreateCardIntent)
		tx.POST("/card/", mw, api.CreateCardIntent)
		tx.POST("/chain", mw, api.ChainDonate)
		tx.POST("/chain/", mw, api.ChainDonate)
		tx.GET("", mw, api.GetTransactionsList)
	}
	ops := router.Group("/ops/").Use(middleware.Auth(), middleware.Ops())
	{
		ops.POST("/donations/custodial", mw, api.CustodialDonate)
		ops.POST("/donations/custodial/", mw, api.CustodialDonate)
		ops.POST("/payouts", mw, api.CreatePayout)
		ops.POST("/payouts/", mw, api.CreatePayout)
		ops.POST("/chain/:id/confirm", mw, api.ConfirmChainTx)
		ops.POST("/chain/:id/confirm/", mw, api.ConfirmChainTx)
		ops.GET("/chain/queue", mw, api.GetChainQueue)
		ops.GET("/products/:id", mw, api.GetProduct)
		ops.GET("/prices/:id", mw, api.GetPrice)
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	fmt.Println("[ Payments Backend is up and listening to :" + port + " ]")
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to run Payments Backend on :"+port+": ", err)
	}
}

func WorkerInit() { // Run Chain Confirmation Worker
	App = app.Init()
	srv := worker.NewAsynqServer(worker.QueueChain, App.Logger)
	var ops worker.OpsNotifier
	if App.Notifier != nil {
		ops = App.Notifier
	}
	mux := asynq.NewServeMux()
	mux.Handle(worker.TypeChainConfirm, worker.NewChainConfirmHandler(
		App.Ledger,
		App.Evm.FetchReceipt,
		ops,
		App.Logger,
	))
	if err := srv.Run(mux); err != nil {
		log.Fatal("Failed to run chain confirmation worker: ", err)
	}
}
