package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"acadRepo/internal/metrics"
	"acadRepo/internal/synopsis"
)

// SynopsisHandler summarizes free text on demand.
type SynopsisHandler struct {
	summarizer   synopsis.Summarizer
	counter      redisRateCounter
	logger       *slog.Logger
	limitPerHour int
}

// NewSynopsisHandler builds the handler. A nil counter disables the hourly limit.
func NewSynopsisHandler(summarizer synopsis.Summarizer, counter redisRateCounter, logger *slog.Logger, limitPerHour int) *SynopsisHandler {
	return &SynopsisHandler{
		summarizer:   summarizer,
		counter:      counter,
		logger:       logger,
		limitPerHour: limitPerHour,
	}
}

type synopsisRequest struct {
	Text string `json:"text" binding:"required,max=200000"`
}

// Generate returns a synopsis of the posted text.
func (h *SynopsisHandler) Generate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := loggerFrom(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	var req synopsisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errs, ok := bindingFieldErrors(err); ok {
			ValidationFailed(c, errs)
			return
		}
		BadRequest(c, "invalid json payload")
		return
	}

	ctx := c.Request.Context()
	if h.counter != nil && h.limitPerHour > 0 {
		count, err := incrWithTTL(ctx, h.counter, hourlyKey("rate:synopsis", strconv.FormatUint(uint64(userID), 10)), time.Hour)
		if err != nil {
			logger.Warn("synopsis rate counter unavailable", slog.Any("error", err))
		} else if count > int64(h.limitPerHour) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	text, err := h.summarizer.Summarize(ctx, req.Text)
	metrics.ObserveSynopsis("request", err != nil, false)
	if err != nil {
		logger.Warn("synopsis request failed", slog.Any("error", err))
		Error(c, http.StatusBadGateway, "could not generate automatic synopsis")
		return
	}

	c.JSON(http.StatusOK, gin.H{"synopsis": strings.TrimSpace(text)})
}
