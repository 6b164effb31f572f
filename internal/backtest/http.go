package backtest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPServer 提供 Gin 接口，供外部提交回测任务并查询进度。
type HTTPServer struct {
	addr   string
	svc    *Service
	router *gin.Engine
}

type HTTPConfig struct {
	Addr string
	Svc  *Service
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:   cfg.Addr,
		svc:    cfg.Svc,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtests")
	api.POST("", s.handleSubmit)
	api.GET("", s.handleJobs)
	api.GET("/:id", s.handleJobStatus)
}

func (s *HTTPServer) handleSubmit(c *gin.Context) {
	var req struct {
		StrategyFile  string   `json:"strategy_file" binding:"required"`
		Pairs         []string `json:"pairs" binding:"required"`
		Timeframes    []string `json:"timeframes" binding:"required"`
		DateRange     string   `json:"date_range" binding:"required"`
		CorrelationID string   `json:"correlation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.Submit(Request{
		StrategyFile:  req.StrategyFile,
		Pairs:         req.Pairs,
		Timeframes:    req.Timeframes,
		DateRange:     req.DateRange,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleJobStatus(c *gin.Context) {
	id := c.Param("id")
	job, err := s.svc.Job(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	list, err := s.svc.Jobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
