package diagserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/pipeline"
)

// DiagResponse is the body of GET /diag.
type DiagResponse struct {
	pipeline.DiagStats
	Throughput *pipeline.Throughput `json:"throughput,omitempty"`
}

// TopResponse is the body of the top routes.
type TopResponse struct {
	Items []pipeline.TopStat `json:"items"`
}

// WorkerUsage is the busy ratio of one worker.
type WorkerUsage struct {
	Worker int     `json:"worker"`
	Usage  float64 `json:"usage"`
}

// UsageResponse is the body of GET /usage.
type UsageResponse struct {
	Workers []WorkerUsage `json:"workers"`
	Average float64       `json:"average"`
}

// QueueResponse is the body of GET /queue.
type QueueResponse struct {
	Size int `json:"size"`
}

// LogLevelResponse is the body of POST /loglevel.
type LogLevelResponse struct {
	Worker    int    `json:"worker"`
	Direction string `json:"direction"`
}

// ErrorResponse is the body of failed requests.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), RequestID: c.GetString("request_id")})
}

func (s *Server) handleDiag(c *gin.Context) {
	resp := DiagResponse{DiagStats: s.mgr.GetDiagStats()}
	if s.throughput != nil {
		tp := s.throughput()
		resp.Throughput = &tp
	}
	c.JSON(http.StatusOK, resp)
}

// limit reads ?limit=N. Absent means DefaultTopLimit.
func limit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return DefaultTopLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func (s *Server) handleTopSequences(c *gin.Context) {
	n, err := limit(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, TopResponse{Items: nonNil(s.mgr.GetTopSequences(n))})
}

func (s *Server) handleTopPeaks(c *gin.Context) {
	n, err := limit(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, TopResponse{Items: nonNil(s.mgr.GetTopPeaks(n))})
}

func (s *Server) handleResetPeaks(c *gin.Context) {
	s.mgr.ResetPeaks()
	c.Status(http.StatusNoContent)
}

func nonNil(stats []pipeline.TopStat) []pipeline.TopStat {
	if stats == nil {
		return []pipeline.TopStat{}
	}
	return stats
}

func (s *Server) handleUsage(c *gin.Context) {
	usage := s.mgr.GetWorkerUsage()

	resp := UsageResponse{Workers: make([]WorkerUsage, len(usage))}
	var sum float64
	for i, u := range usage {
		resp.Workers[i] = WorkerUsage{Worker: i + 1, Usage: u}
		sum += u
	}
	if len(usage) > 0 {
		resp.Average = sum / float64(len(usage))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, QueueResponse{Size: s.mgr.QueueSize()})
}

func (s *Server) handleLogLevel(c *gin.Context) {
	var dir pipeline.LogLevelDirection
	direction := c.Param("direction")
	switch direction {
	case "increase":
		dir = pipeline.LogLevelIncrease
	case "decrease":
		dir = pipeline.LogLevelDecrease
	default:
		s.fail(c, http.StatusBadRequest, errors.New("direction must be increase or decrease"))
		return
	}

	worker := 0
	if raw := c.Query("worker"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, http.StatusBadRequest, errors.New("worker must be an integer"))
			return
		}
		worker = n
	}

	if err := s.mgr.ChangeWorkerLogLevel(worker, dir); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errors.ErrNoSuchWorker) {
			status = http.StatusNotFound
		}
		s.fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, LogLevelResponse{Worker: worker, Direction: direction})
}
