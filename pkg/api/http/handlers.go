package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

// RunSubmitRequest is a planning run submission.
type RunSubmitRequest struct {
	Project string            `json:"project" binding:"required"`
	Request string            `json:"request" binding:"required"`
	Seeds   []domain.Seed     `json:"seeds,omitempty"`
	Nodes   []domain.NodeSpec `json:"nodes" binding:"required"`
}

// RunSubmitResponse acknowledges a submitted run.
type RunSubmitResponse struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and message.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"orchestrator": "ok",
		},
	})
}

// handleSubmitRun handles planning run submission.
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req RunSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	runID, err := s.orchestrator.SubmitRun(c.Request.Context(), domain.ExecutionRequest{
		Project: req.Project,
		Request: req.Request,
		Seeds:   req.Seeds,
	}, req.Nodes)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SUBMISSION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Status:      "submitted",
		SubmittedAt: time.Now().UTC(),
	})
}

// handleGetRun returns the full run state.
func (s *Server) handleGetRun(c *gin.Context) {
	state, ok := s.runState(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleGetStatus returns the run's phase summary.
func (s *Server) handleGetStatus(c *gin.Context) {
	state, ok := s.runState(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"project":      state.Project,
		"phase":        state.Phase,
		"submitted_at": state.SubmittedAt,
		"started_at":   state.StartedAt,
		"completed_at": state.CompletedAt,
	})
}

// handleGetResult returns the consolidated plan once the run is terminal.
func (s *Server) handleGetResult(c *gin.Context) {
	state, ok := s.runState(c)
	if !ok {
		return
	}

	if state.Phase != domain.PhaseDone && state.Phase != domain.PhaseFailed {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_COMPLETED",
				Message: "run not yet completed",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"phase":        state.Phase,
		"plan":         state.Plan,
		"node_states":  state.NodeStates,
		"error":        state.Error,
		"completed_at": state.CompletedAt,
	})
}

// handleCancelRun cancels an in-flight run.
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       "cancelled",
		"cancelled_at": time.Now().UTC(),
	})
}

// handleListNodes lists the checkpointed nodes of a project with their
// initialization status.
func (s *Server) handleListNodes(c *gin.Context) {
	project := c.Param("project")

	infos, err := s.checkpoints.List(c.Request.Context(), project)
	if err != nil {
		s.logger.Error("failed to list checkpoints",
			zap.String("project", project),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORE_ERROR",
				Message: "failed to list checkpoints",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"nodes":   infos,
	})
}

// handleClearCheckpoints clears one node's checkpoint, or the whole project
// when the node query parameter is absent. Cleared nodes re-explore on the
// next run.
func (s *Server) handleClearCheckpoints(c *gin.Context) {
	project := c.Param("project")
	node := c.Query("node")

	if err := s.checkpoints.Clear(c.Request.Context(), project, node); err != nil {
		s.logger.Error("failed to clear checkpoints",
			zap.String("project", project),
			zap.String("node", node),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORE_ERROR",
				Message: "failed to clear checkpoints",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"node":    node,
		"status":  "cleared",
	})
}

// handleListVersions lists a node's stored checkpoint versions.
func (s *Server) handleListVersions(c *gin.Context) {
	project := c.Param("project")
	node := c.Param("node")

	versions, err := s.checkpoints.Versions(c.Request.Context(), project, node)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "no checkpoint for node",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORE_ERROR",
				Message: "failed to list versions",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project":  project,
		"node":     node,
		"versions": versions,
	})
}

// ForkRequest selects the checkpoint version to branch from.
type ForkRequest struct {
	Version int `json:"version" binding:"required"`
}

// handleForkCheckpoint repoints a node's checkpoint head to an existing
// version.
func (s *Server) handleForkCheckpoint(c *gin.Context) {
	project := c.Param("project")
	node := c.Param("node")

	var req ForkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if err := s.checkpoints.Fork(c.Request.Context(), project, node, req.Version); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "checkpoint version not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORE_ERROR",
				Message: "failed to fork checkpoint",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"node":    node,
		"version": req.Version,
		"status":  "forked",
	})
}

// handleListContracts lists a project's contracts, optionally filtered to
// one node via the node query parameter.
func (s *Server) handleListContracts(c *gin.Context) {
	project := c.Param("project")
	node := c.Query("node")

	contracts, err := s.contracts.ListForNode(c.Request.Context(), project, node)
	if err != nil {
		s.logger.Error("failed to list contracts",
			zap.String("project", project),
			zap.String("node", node),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORE_ERROR",
				Message: "failed to list contracts",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project":   project,
		"contracts": contracts,
	})
}

// runState loads the run for the :id path parameter, writing the error
// response itself when the run is unknown.
func (s *Server) runState(c *gin.Context) (*domain.RunState, bool) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetRun(runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "run not found",
				},
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL_ERROR",
				Message: err.Error(),
			},
		})
		return nil, false
	}
	return state, true
}
