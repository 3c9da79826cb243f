package handler

import (
	"coopcredit/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter wires the API. rdb may be nil on single-node installs.
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, log)

	api := r.Group("/api/v1")
	{
		member := api.Group("/member")
		{
			member.POST("/create", h.CreateMember)
			member.GET("/get", h.GetMember)
			member.GET("/balance", h.GetBalance)
			member.GET("/credit-check", h.CheckCredit)
			member.POST("/recompute", h.Recompute)
			member.POST("/credit-limit", h.SetCreditLimit)
			member.GET("/ledger", h.Ledger)
			member.GET("/schedules", h.Schedules)
			member.GET("/events", h.Events)
		}

		credit := api.Group("/credit")
		{
			credit.POST("/purchase", h.RecordPurchase)
			credit.POST("/payment", h.Pay)
			credit.POST("/earned", h.Earned)
			credit.POST("/adjustment", h.Adjustment)
			credit.GET("/receipt", h.Receipt)
			credit.GET("/history", h.DebitHistory)
			credit.POST("/terms", h.Terms)
		}

		accrual := api.Group("/accrual")
		{
			accrual.POST("/interest", h.Interest)
			accrual.POST("/penalties", h.Penalties)
			accrual.POST("/penalty", h.Penalty)
			accrual.POST("/mark-overdue", h.MarkOverdue)
		}
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
