package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crimson-sun/fraudlens/internal/health"
	"github.com/crimson-sun/fraudlens/internal/logging"
	"github.com/crimson-sun/fraudlens/internal/model"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	ModelsLoaded bool            `json:"models_loaded"`
	Checks       []health.Status `json:"checks"`
	Timestamp    string          `json:"timestamp"`
}

func (s *Server) rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"service":   serviceName,
		"version":   s.cfg.Version,
		"timestamp": now(),
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	resp := HealthResponse{
		Status:    "healthy",
		Checks:    statuses,
		Timestamp: now(),
	}
	for _, st := range statuses {
		if st.Name == "models" {
			resp.ModelsLoaded = st.Healthy
		}
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) predictHandler(c *gin.Context) {
	var txn model.Transaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		decodeError(c, err)
		return
	}

	ctx := c.Request.Context()
	result, err := s.scorer.Predict(ctx, txn)
	if err != nil {
		predictError(c, err)
		return
	}
	s.publish(ctx, result)
	c.JSON(http.StatusOK, result)
}

func (s *Server) predictBatchHandler(c *gin.Context) {
	var txns []model.Transaction
	if err := c.ShouldBindJSON(&txns); err != nil {
		decodeError(c, err)
		return
	}
	if len(txns) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "empty_batch",
			"message": "at least one transaction is required",
		})
		return
	}

	ctx := c.Request.Context()
	res := s.scorer.PredictBatch(ctx, txns)
	for _, r := range res.Results {
		s.publish(ctx, r)
	}
	c.JSON(http.StatusOK, res)
}

// publish hands a result to the live feed and the mirror sink. Failures are
// logged; they never fail the request.
func (s *Server) publish(ctx context.Context, result model.ScoredTransaction) {
	if s.hub != nil {
		s.hub.Broadcast(result)
	}
	if s.out != nil {
		if err := s.out.Write(ctx, result); err != nil {
			logging.L(ctx).Warn("output write failed",
				"transaction_id", result.TransactionID,
				"error", err,
			)
		}
	}
}

func decodeError(c *gin.Context, err error) {
	var missing *model.MissingFieldError
	if errors.As(err, &missing) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "missing_field",
			"field":   missing.Field,
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":   "invalid_request",
		"message": err.Error(),
	})
}

func predictError(c *gin.Context, err error) {
	var invalid *model.InvalidTransactionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_transaction",
			"field":   invalid.Field,
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"detail": "Prediction error: " + err.Error(),
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
