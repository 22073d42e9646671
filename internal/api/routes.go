package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/sheetsync/internal/job"
	"github.com/zulandar/sheetsync/internal/models"
	"github.com/zulandar/sheetsync/internal/scheduler"
	"github.com/zulandar/sheetsync/internal/source"
)

type handlers struct {
	opts Opts
	log  *zap.Logger
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.GET("/jobs", h.listJobs)
	api.POST("/jobs", h.createJob)
	api.GET("/jobs/:id", h.getJob)
	api.PUT("/jobs/:id", h.updateJob)
	api.DELETE("/jobs/:id", h.deleteJob)
	api.POST("/jobs/:id/run", h.runJob)
	api.GET("/jobs/:id/logs", h.jobLogs)
	api.POST("/sync", h.syncTable)
	api.GET("/scheduler", h.entries)
	api.POST("/scheduler/reload", h.reload)
	api.GET("/sources/:spreadsheet/ranges", h.ranges)
}

func errorBody(err error) gin.H {
	return gin.H{"success": false, "error": err.Error()}
}

func jobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid job id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return uint(id), true
}

func (h *handlers) health(c *gin.Context) {
	sqlDB, err := h.opts.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listJobs(c *gin.Context) {
	var filters job.ListFilters
	if v := c.Query("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "enabled must be a boolean"})
			return
		}
		filters.Enabled = &b
	}
	filters.Status = c.Query("status")
	filters.Table = c.Query("table")

	jobs, err := job.List(h.opts.DB.WithContext(c.Request.Context()), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// bindJob decodes the job definition and rejects unparseable schedules.
func bindJob(c *gin.Context) (job.Opts, bool) {
	var opts job.Opts
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return opts, false
	}
	if opts.Schedule != "" {
		if _, err := scheduler.ParseSchedule(opts.Schedule); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(err))
			return opts, false
		}
	}
	return opts, true
}

func (h *handlers) createJob(c *gin.Context) {
	opts, ok := bindJob(c)
	if !ok {
		return
	}
	j, err := job.Create(h.opts.DB.WithContext(c.Request.Context()), opts)
	if err != nil {
		c.JSON(definitionStatus(err), errorBody(err))
		return
	}
	h.register(j)
	c.JSON(http.StatusCreated, j)
}

func (h *handlers) getJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	j, err := job.Get(h.opts.DB.WithContext(c.Request.Context()), id)
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *handlers) updateJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	opts, ok := bindJob(c)
	if !ok {
		return
	}
	j, err := job.Update(h.opts.DB.WithContext(c.Request.Context()), id, opts)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorBody(err))
			return
		}
		c.JSON(definitionStatus(err), errorBody(err))
		return
	}
	h.register(j)
	c.JSON(http.StatusOK, j)
}

// definitionStatus maps a rejected job definition to its HTTP status.
func definitionStatus(err error) int {
	if errors.Is(err, job.ErrTableInUse) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func (h *handlers) deleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	j, err := job.Get(h.opts.DB.WithContext(ctx), id)
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	h.opts.Scheduler.Unregister(id)

	dropped := false
	if drop, _ := strconv.ParseBool(c.Query("drop_table")); drop {
		if h.opts.Tables == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "table dropping is not configured"})
			return
		}
		if err := h.opts.Tables.DropTable(ctx, j); err != nil {
			c.JSON(http.StatusInternalServerError, errorBody(err))
			return
		}
		dropped = true
	}
	if err := job.Delete(h.opts.DB.WithContext(ctx), id); err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "table_dropped": dropped})
}

func (h *handlers) runJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	out, err := h.opts.Scheduler.RunNow(c.Request.Context(), id)
	h.runResponse(c, []scheduler.Outcome{out}, err)
}

type syncRequest struct {
	Table      string `json:"table" binding:"required"`
	Connection string `json:"connection"`
}

func (h *handlers) syncTable(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	out, err := h.opts.Scheduler.RunByTable(c.Request.Context(), req.Connection, req.Table)
	h.runResponse(c, []scheduler.Outcome{out}, err)
}

// runResponse renders a manual trigger result. Lock contention and unknown
// jobs are expected conditions and answer 200 with success false.
func (h *handlers) runResponse(c *gin.Context, outs []scheduler.Outcome, err error) {
	switch {
	case err == nil:
		body := gin.H{"success": true, "results": outs}
		if len(outs) == 1 {
			body["message"] = outs[0].Message
			body["stats"] = outs[0].Stats
			body["status"] = outs[0].Status
		}
		c.JSON(http.StatusOK, body)
	case errors.Is(err, scheduler.ErrLocked):
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"error":      err.Error(),
			"suggestion": "A sync for this job is already in progress. Wait for it to finish and try again.",
		})
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"error":      err.Error(),
			"suggestion": "Check the job id or table name with GET /api/jobs.",
		})
	case errors.Is(err, job.ErrAmbiguousTable):
		c.JSON(http.StatusBadRequest, gin.H{
			"success":    false,
			"error":      err.Error(),
			"suggestion": "Add \"connection\" to the request to pick the target database.",
		})
	default:
		h.log.Warn("manual run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "results": outs})
	}
}

func (h *handlers) jobLogs(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	if _, err := job.Get(h.opts.DB.WithContext(ctx), id); err != nil {
		h.notFoundOr500(c, err)
		return
	}
	logs, err := job.ListRuns(h.opts.DB.WithContext(ctx), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *handlers) entries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.opts.Scheduler.Entries()})
}

func (h *handlers) reload(c *gin.Context) {
	err := h.opts.Scheduler.Reload(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "scheduled": len(h.opts.Scheduler.Entries())})
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"error":     err.Error(),
			"scheduled": len(h.opts.Scheduler.Entries()),
		})
	default:
		c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}

func (h *handlers) ranges(c *gin.Context) {
	if h.opts.Source == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "no source provider configured"})
		return
	}
	names, err := h.opts.Source.GetRangeNames(c.Request.Context(), c.Param("spreadsheet"))
	if err != nil {
		status := http.StatusInternalServerError
		var fe *source.FetchError
		if errors.As(err, &fe) {
			status = http.StatusBadGateway
		}
		c.JSON(status, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranges": names})
}

func (h *handlers) register(j *models.SyncJob) {
	if err := h.opts.Scheduler.Register(j); err != nil {
		h.log.Warn("job saved but not scheduled", zap.Uint("job_id", j.ID), zap.Error(err))
	}
}

func (h *handlers) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, job.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	c.JSON(http.StatusInternalServerError, errorBody(err))
}
