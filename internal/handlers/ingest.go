package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/models"
	"github.com/ecyb/daynight-tracking/internal/repository"
	"github.com/ecyb/daynight-tracking/internal/utils"
)

// MaxIngestBody bounds a behaviour request after decompression.
const MaxIngestBody = 4 << 20

type IngestHandler struct {
	log *zap.Logger
}

func NewIngestHandler(log *zap.Logger) *IngestHandler {
	return &IngestHandler{log: log}
}

// Track is the behaviour sink: it stores batches and final states posted by
// dispatchers.
func (h *IngestHandler) Track(c *gin.Context) {
	body, err := readBody(c.Request)
	if err != nil {
		h.log.Warn("Failed to read behaviour body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return
	}

	env, err := models.DecodeIngest(body)
	if err != nil {
		h.log.Warn("Failed to decode behaviour body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if !utils.IsValidIdentifier(env.SessionID) || !utils.IsValidIdentifier(env.ProjectID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid identifiers"})
		return
	}

	ctx := c.Request.Context()
	if env.IsFinal() {
		if err := repository.SaveFinalState(ctx, env.Final()); err != nil {
			h.log.Error("Failed to save final emotion state", zap.String("session_id", env.SessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save final state"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	batchID, err := repository.SaveBatch(ctx, env.Batch())
	if err != nil {
		h.log.Error("Failed to save behaviour batch", zap.String("session_id", env.SessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save batch"})
		return
	}
	h.log.Debug("Behaviour batch stored",
		zap.String("batch_id", batchID),
		zap.String("session_id", env.SessionID),
		zap.Int("events", len(env.Events)),
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "batch_id": batchID})
}

func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	body, err := io.ReadAll(io.LimitReader(reader, MaxIngestBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxIngestBody {
		return nil, errors.New("body too large")
	}
	return body, nil
}
