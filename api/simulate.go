package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/db"
	"github.com/banachtech/riskcube/mainfuncs"
	"github.com/banachtech/riskcube/payoff"
	"github.com/banachtech/riskcube/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxListedRuns = 100

type simulateRequest struct {
	Asof      string        `json:"asof" binding:"required"`
	Grid      string        `json:"grid"`
	MPoR      string        `json:"mpor"`
	Samples   int           `json:"samples" binding:"omitempty,min=1,max=100000"`
	Seed      *uint64       `json:"seed"`
	Portfolio []payoff.Spec `json:"portfolio" binding:"required,min=1"`
}

type runResponse struct {
	ID        string          `json:"id"`
	Asof      string          `json:"asof"`
	Status    db.RunStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

func newRunResponse(r db.Run, withSummary bool) runResponse {
	resp := runResponse{ID: r.ID, Asof: r.Asof.Format(utils.Layout), Status: r.Status, CreatedAt: r.CreatedAt}
	if withSummary {
		resp.Summary = r.Summary
	}
	return resp
}

func (server *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) runSimulation(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}

	cfg := server.base
	cfg.Asof = req.Asof
	cfg.Portfolio = req.Portfolio
	cfg.Engine.ShowProgress = false
	if req.Grid != "" {
		cfg.Engine.Grid = req.Grid
	}
	if req.MPoR != "" {
		cfg.Engine.MPoR = req.MPoR
	}
	if req.Samples > 0 {
		cfg.Engine.Samples = req.Samples
	}
	if req.Seed != nil {
		cfg.Engine.Seed = *req.Seed
	}
	if err := cfg.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	asof, err := time.Parse(utils.Layout, cfg.Asof)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}

	out, err := server.simulate(c.Request.Context(), &cfg, server.logger, mainfuncs.Options{})
	if err != nil {
		server.logger.Error("simulation failed", zap.String("asof", cfg.Asof), zap.Error(err))
		summary, _ := json.Marshal(errorResponse(err))
		run := db.Run{ID: uuid.NewString(), Asof: asof, Status: db.RunFailed, Summary: summary, CreatedAt: time.Now().UTC()}
		if serr := server.store.SaveRun(c, run); serr != nil {
			server.logger.Error("failed to store run", zap.String("runId", run.ID), zap.Error(serr))
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "run_id": run.ID})
		return
	}

	summary, err := json.Marshal(out.Report)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(err))
		return
	}
	var buf bytes.Buffer
	if err := cube.WriteCSV(&buf, out.Cube, out.NettingSets); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(err))
		return
	}
	run := db.Run{
		ID:        out.Report.RunID,
		Asof:      asof,
		Status:    db.RunSucceeded,
		Summary:   summary,
		Cube:      buf.Bytes(),
		CreatedAt: time.Now().UTC(),
	}
	if err := server.store.SaveRun(c, run); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, out.Report)
}

func (server *Server) listRuns(c *gin.Context) {
	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxListedRuns {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(errors.New("limit must be between 1 and 100")))
			return
		}
		limit = n
	}
	runs, err := server.store.ListRuns(c, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(err))
		return
	}
	out := make([]runResponse, len(runs))
	for i, r := range runs {
		out[i] = newRunResponse(r, false)
	}
	c.JSON(http.StatusOK, out)
}

func (server *Server) lookupRun(c *gin.Context) (db.Run, bool) {
	run, err := server.store.GetRun(c, c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, errorResponse(err))
			return db.Run{}, false
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(err))
		return db.Run{}, false
	}
	return run, true
}

func (server *Server) getRun(c *gin.Context) {
	run, ok := server.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newRunResponse(run, true))
}

func (server *Server) getRunCube(c *gin.Context) {
	run, ok := server.lookupRun(c)
	if !ok {
		return
	}
	if len(run.Cube) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse(errors.New("run has no cube")))
		return
	}
	c.Data(http.StatusOK, "text/csv", run.Cube)
}
