package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"depthwatch/config"
	"depthwatch/internal/models"
	"depthwatch/internal/store"
	"depthwatch/logger"
)

const defaultHistoryLimit = 500

// SpanProjector is the narrow tracker surface the API reads from.
type SpanProjector interface {
	Active(now int64) []models.OutlierSpan
}

// Server hosts the read API and the websocket fan-out endpoint.
type Server struct {
	cfg         *config.Config
	stores      *store.Stores
	broadcaster *Broadcaster
	spans       SpanProjector
	httpServer  *http.Server
	log         *logger.Log
}

func NewServer(cfg *config.Config, stores *store.Stores, broadcaster *Broadcaster, spans SpanProjector) *Server {
	return &Server{
		cfg:         cfg,
		stores:      stores,
		broadcaster: broadcaster,
		spans:       spans,
		log:         logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	s.log.WithComponent("server").WithFields(logger.Fields{
		"addr":      addr,
		"base_path": s.cfg.Server.BasePath,
	}).Info("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.broadcaster.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	base := router.Group(s.cfg.Server.BasePath)

	// The root does double duty: websocket upgrades for subscribers,
	// service info for everything else.
	base.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			s.broadcaster.HandleUpgrade(c.Writer, c.Request)
			return
		}
		c.JSON(http.StatusOK, gin.H{"service": "depthwatch", "clients": s.broadcaster.ClientCount()})
	})

	api := base.Group("/api")
	api.GET("/config", s.handleConfig)
	api.GET("/status", s.handleStatus)
	api.GET("/history", s.handleHistory)
	api.GET("/trades", s.handleTrades)
	api.GET("/liquidations", s.handleLiquidations)
	api.GET("/oi-funding", s.handleOiFunding)
	api.GET("/large-moves", s.handleLargeMoves)
	api.GET("/outliers", s.handleOutliers)
	api.GET("/outliers/spans", s.handleSpans)
	api.GET("/outliers/spans/active", s.handleActiveSpans)

	// Report rendering is deferred; the stores they would read are live.
	for _, path := range []string{
		"/outliers/report",
		"/outliers/report.csv",
		"/outliers/report.pdf",
		"/outliers/report/busiest",
		"/analysis/report/pdf",
		"/analysis/report/compare/pdf",
	} {
		api.GET(path, func(c *gin.Context) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "report rendering not available in this build"})
		})
	}

	base.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, nil
}

func (s *Server) handleConfig(c *gin.Context) {
	m := s.cfg.Monitor
	c.JSON(http.StatusOK, gin.H{
		"symbols":           m.Symbols,
		"depth":             m.Depth,
		"baseMmNotional":    m.BaseMmNotional,
		"largeMoveNotional": m.LargeMoveNotional,
		"sizeBins":          m.SizeBins,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"liveMonitoring": s.cfg.Monitor.LiveMonitoring})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := queryLimit(c)
	c.JSON(http.StatusOK, s.stores.Metrics.History(limit, c.Query("symbol")))
}

func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.stores.Trades.History(queryLimit(c), queryFilter(c)))
}

func (s *Server) handleLiquidations(c *gin.Context) {
	c.JSON(http.StatusOK, s.stores.Liquidations.History(queryLimit(c), queryFilter(c)))
}

func (s *Server) handleOiFunding(c *gin.Context) {
	c.JSON(http.StatusOK, s.stores.OiFunding.History(queryLimit(c), queryFilter(c)))
}

func (s *Server) handleLargeMoves(c *gin.Context) {
	c.JSON(http.StatusOK, s.stores.LargeMoves.History(queryLimit(c), c.Query("symbol")))
}

func (s *Server) handleOutliers(c *gin.Context) {
	c.JSON(http.StatusOK, s.stores.Outliers.History(queryLimit(c), queryFilter(c)))
}

func (s *Server) handleSpans(c *gin.Context) {
	c.JSON(http.StatusOK, s.stores.Spans.History(queryLimit(c), queryFilter(c)))
}

func (s *Server) handleActiveSpans(c *gin.Context) {
	c.JSON(http.StatusOK, s.spans.Active(time.Now().UnixMilli()))
}

func queryLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return n
}

func queryFilter(c *gin.Context) store.HistoryFilter {
	return store.HistoryFilter{
		Symbol:   c.Query("symbol"),
		Market:   c.Query("market"),
		Exchange: c.Query("exchange"),
	}
}
