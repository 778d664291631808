// Package api exposes the scan engine over HTTP. Handlers stay thin:
// they translate between JSON and the domain services and map domain
// errors onto status codes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mqxerror/qa-guardian/dast/finding"
	"github.com/mqxerror/qa-guardian/dast/graphql"
	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/scan"
	"github.com/mqxerror/qa-guardian/dast/schedule"
)

// Server wires the domain services into a gin router.
type Server struct {
	repo      *postgres.Repository
	scans     *scan.Manager
	schedules *schedule.Service
	graphql   *graphql.Runner
}

func NewServer(repo *postgres.Repository, scans *scan.Manager, schedules *schedule.Service, gql *graphql.Runner) *Server {
	return &Server{repo: repo, scans: scans, schedules: schedules, graphql: gql}
}

// Router builds the route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/scans", s.startScan)
		v1.GET("/scans", s.listScans)
		v1.GET("/scans/:id", s.getScan)
		v1.POST("/scans/:id/cancel", s.cancelScan)
		v1.GET("/scans/:id/findings", s.listFindings)

		v1.PUT("/targets/:targetID/config", s.putScanConfig)
		v1.GET("/targets/:targetID/config", s.getScanConfig)

		v1.POST("/targets/:targetID/false-positives", s.createFalsePositive)
		v1.GET("/targets/:targetID/false-positives", s.listFalsePositives)
		v1.DELETE("/targets/:targetID/false-positives/:fpID", s.deleteFalsePositive)

		v1.POST("/schedules", s.createSchedule)
		v1.GET("/schedules", s.listSchedules)
		v1.GET("/schedules/:id", s.getSchedule)
		v1.PUT("/schedules/:id", s.updateSchedule)
		v1.DELETE("/schedules/:id", s.deleteSchedule)

		v1.POST("/graphql-scans", s.startGraphQLScan)
		v1.GET("/graphql-scans", s.listGraphQLScans)
		v1.GET("/graphql-scans/:id", s.getGraphQLScan)

		v1.GET("/events", s.listEvents)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---- scans ----

func (s *Server) startScan(c *gin.Context) {
	var req scan.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.scans.StartScan(c.Request.Context(), req)
	if err != nil {
		var verr *scan.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		case errors.Is(err, scan.ErrScanConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (s *Server) listScans(c *gin.Context) {
	scans, err := s.scans.ListScans(
		c.Query("target_id"),
		model.ScanStatus(c.Query("status")),
		intQuery(c, "limit"),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans, "count": len(scans)})
}

func (s *Server) getScan(c *gin.Context) {
	result, err := s.scans.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scan.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) cancelScan(c *gin.Context) {
	err := s.scans.CancelScan(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	case errors.Is(err, scan.ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scan.ErrScanFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) listFindings(c *gin.Context) {
	result, err := s.scans.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scan.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	findings := result.Findings
	if c.Query("include_false_positives") != "true" {
		kept := findings[:0:0]
		for _, f := range findings {
			if !f.IsFalsePositive {
				kept = append(kept, f)
			}
		}
		findings = kept
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings, "summary": result.Summary})
}

// ---- scan configuration ----

func (s *Server) putScanConfig(c *gin.Context) {
	var cfg model.ScanConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	cfg.TargetID = c.Param("targetID")
	if err := s.repo.UpsertScanConfig(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) getScanConfig(c *gin.Context) {
	cfg, err := s.repo.GetScanConfig(c.Param("targetID"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan config not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ---- false positives ----

func (s *Server) createFalsePositive(c *gin.Context) {
	var fp model.FalsePositive
	if err := c.ShouldBindJSON(&fp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if fp.PluginID == "" || fp.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plugin_id and url are required"})
		return
	}
	fp.TargetID = c.Param("targetID")
	if fp.ID == "" {
		fp.ID = uuid.New().String()
	}
	if err := s.repo.CreateFalsePositive(&fp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.reapplySuppressions(fp.TargetID); err != nil {
		slog.Error("Failed to re-apply suppressions", "target_id", fp.TargetID, "error", err)
	}
	c.JSON(http.StatusCreated, fp)
}

func (s *Server) listFalsePositives(c *gin.Context) {
	fps, err := s.repo.ListFalsePositives(c.Param("targetID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"false_positives": fps, "count": len(fps)})
}

func (s *Server) deleteFalsePositive(c *gin.Context) {
	if err := s.repo.DeleteFalsePositive(c.Param("fpID")); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "false positive not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	targetID := c.Param("targetID")
	if err := s.reapplySuppressions(targetID); err != nil {
		slog.Error("Failed to re-apply suppressions", "target_id", targetID, "error", err)
	}
	c.Status(http.StatusNoContent)
}

// reapplySuppressions re-evaluates every finished scan of the target
// against the current suppression set: flags are recomputed from scratch
// so removed suppressions release their findings, then each summary is
// rebuilt.
func (s *Server) reapplySuppressions(targetID string) error {
	suppressions, err := s.repo.ListFalsePositives(targetID)
	if err != nil {
		return err
	}
	scans, err := s.repo.ListCompletedScansWithFindings(targetID)
	if err != nil {
		return err
	}
	for i := range scans {
		sc := &scans[i]
		finding.ReapplyFalsePositives(sc.Findings, suppressions)
		if err := s.repo.SaveFindings(sc.Findings); err != nil {
			return err
		}
		summary, err := finding.RecomputeSummary(sc.Findings)
		if err != nil {
			return err
		}
		sc.Summary = summary
		if err := s.repo.SaveScanRecord(sc); err != nil {
			return err
		}
	}
	return nil
}

// ---- schedules ----

func (s *Server) createSchedule(c *gin.Context) {
	var sched model.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.schedules.Create(&sched); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) listSchedules(c *gin.Context) {
	scheds, err := s.schedules.List(c.Query("target_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": scheds, "count": len(scheds)})
}

func (s *Server) getSchedule(c *gin.Context) {
	sched, err := s.schedules.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) updateSchedule(c *gin.Context) {
	var sched model.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	sched.ID = c.Param("id")
	if err := s.schedules.Update(&sched); err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.schedules.Delete(c.Param("id")); err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- graphql scans ----

func (s *Server) startGraphQLScan(c *gin.Context) {
	var cfg model.GraphQLScanConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	result, err := s.graphql.Start(c.Request.Context(), cfg)
	if err != nil {
		var cerr *graphql.ConfigError
		if errors.As(err, &cerr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": cerr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (s *Server) listGraphQLScans(c *gin.Context) {
	scans, err := s.graphql.List(intQuery(c, "limit"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"graphql_scans": scans, "count": len(scans)})
}

func (s *Server) getGraphQLScan(c *gin.Context) {
	result, err := s.graphql.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, graphql.ErrGraphQLScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ---- events ----

func (s *Server) listEvents(c *gin.Context) {
	events, err := s.repo.ListEvents(postgres.EventFilters{
		ScanID:   c.Query("scan_id"),
		TargetID: c.Query("target_id"),
		Type:     c.Query("type"),
		Limit:    intQuery(c, "limit"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func intQuery(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
