package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/engine"
)

const (
	defaultTimeout = 5 * time.Second
	maxTimeout     = time.Minute
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Source    string `json:"source" binding:"required"`
	TimeoutMS int    `json:"timeout_ms" binding:"omitempty,min=1"`
}

func (r ExecuteRequest) timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return defaultTimeout
	}
	if d := time.Duration(r.TimeoutMS) * time.Millisecond; d < maxTimeout {
		return d
	}
	return maxTimeout
}

func (s *Server) health(c *gin.Context) {
	current := s.engine.Current()
	status := "healthy"
	if current == "" {
		status = "no context"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"context": current,
	})
}

// execute evaluates the request source in the live context. Values that
// cannot be encoded as JSON are reported by their string form only.
func (s *Server) execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), req.timeout())
	defer cancel()

	res, err := s.engine.Execute(ctx, req.Source)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrContextUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Debug("Execute failed", zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	payload, err := sonic.Marshal(gin.H{"value": res.Value, "text": res.Text})
	if err != nil {
		payload, err = sonic.Marshal(gin.H{"text": res.Text})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (s *Server) reapply(c *gin.Context) {
	if !s.engine.ScheduleReapply() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine loop is stopped"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": true})
}
