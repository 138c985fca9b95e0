package server

import (
	"fmt"
	"net/http"
	"time"

	limit "github.com/bu/gin-access-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/actions"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/logger"
)

// NewRouter registers every route of the API
func NewRouter(cfg config.APIConfig, a *actions.Actions) *gin.Engine {
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	if len(cfg.CorsOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CorsOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "X-Requested-With", "Content-Length", "Content-Type", "Accept", "Authorization", "X-Admin-Token", "X-Request-Id"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}

	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery()) // Recovery middleware recovers from any panics and writes a 500 if there was one.
	r.Use(logger.SetLogger(logger.Config{SkipPath: []string{"/ping", "/metrics"}}))

	r.GET("/ping", actions.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/events", a.ProcessEvent)

	members := r.Group("/members/:id")
	{
		members.GET("/cap-status", a.GetCapStatus)
		members.POST("/tier", a.RequireAdmin(), a.ChangeTier)
	}

	admin := r.Group("/admin")
	{
		if cfg.AdminAllowedIPs != "" {
			limit.TrustedHeaderField = "X-Forwarded-For"
			admin.Use(limit.CIDR(cfg.AdminAllowedIPs))
		}
		admin.Use(a.RequireAdmin())
		admin.GET("/rates", a.GetRates)
		admin.POST("/rates/reload", a.ReloadRates)
		admin.POST("/jobs/:job", a.RunJob)
	}
	return r
}

func (srv *server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", srv.config.Server.API.Port),
		Handler:           NewRouter(srv.config.Server.API, srv.actions),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (srv *server) ListenToRequests() {
	log.Info().Str("worker", "http_listen_to_requests").Str("action", "start").Msg("HTTP Listen to requests - started")
	defer log.Info().Str("worker", "http_listen_to_requests").Str("action", "stop").Msg("HTTP Listen to requests - stopped")

	if err := srv.HTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Str("section", "server").Msg("Unable to start HTTP server")
	}
}
