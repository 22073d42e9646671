// Package api serves the sheetsync HTTP interface: job CRUD, manual
// triggers, run logs and source discovery.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/models"
	"github.com/zulandar/sheetsync/internal/scheduler"
	"github.com/zulandar/sheetsync/internal/source"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	RunNow(ctx context.Context, id uint) (scheduler.Outcome, error)
	RunByTable(ctx context.Context, connection, table string) (scheduler.Outcome, error)
	Register(j *models.SyncJob) error
	Unregister(id uint)
	Reload(ctx context.Context) error
	Entries() []scheduler.Entry
}

// TableDropper drops the target table of a job.
type TableDropper interface {
	DropTable(ctx context.Context, j *models.SyncJob) error
}

// Opts holds the dependencies of the API server.
type Opts struct {
	DB        *gorm.DB
	Scheduler Scheduler
	Tables    TableDropper
	Source    source.Provider
	Logger    *zap.Logger
	Port      int
	Out       io.Writer
}

func (o *Opts) validate() error {
	if o.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if o.Scheduler == nil {
		return fmt.Errorf("api: scheduler is required")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// NewRouter builds the Gin engine with every route registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	router := gin.New()
	router.Use(requestLogger(opts.Logger), gin.Recovery())
	registerRoutes(router, &handlers{opts: opts, log: opts.Logger.Named("api")})
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
