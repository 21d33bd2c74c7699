// Package api exposes exposure simulations over HTTP.
package api

import (
	"context"
	"sync"
	"time"

	"github.com/banachtech/riskcube/config"
	"github.com/banachtech/riskcube/db"
	"github.com/banachtech/riskcube/mainfuncs"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type simulateFunc func(ctx context.Context, cfg *config.Config, log *zap.Logger, opts mainfuncs.Options) (*mainfuncs.Output, error)

// Server serves HTTP requests for the exposure simulation service.
type Server struct {
	store    db.Store
	base     config.Config
	logger   *zap.Logger
	router   *gin.Engine
	simulate simulateFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer creates a new HTTP server and set up routing. Requests run on top
// of base, overriding only what they carry.
func NewServer(store db.Store, base config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		store:    store,
		base:     base,
		logger:   logger.Named("api"),
		simulate: mainfuncs.Simulate,
		limiters: map[string]*rate.Limiter{},
	}

	server.setupRouter()
	return server
}

func (server *Server) setupRouter() {
	router := gin.New()
	router.Use(ginzap.Ginzap(server.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(server.logger, true))

	router.GET("/healthz", server.health)

	authRoutes := router.Group("/v1").Use(server.authentication, server.rateLimit)
	authRoutes.POST("/simulate", server.runSimulation)
	authRoutes.GET("/runs", server.listRuns)
	authRoutes.GET("/runs/:id", server.getRun)
	authRoutes.GET("/runs/:id/cube", server.getRunCube)
	server.router = router
}

// Start runs the HTTP server on a specific address.
func (server *Server) Start(address string) error {
	return server.router.Run(address)
}

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}
