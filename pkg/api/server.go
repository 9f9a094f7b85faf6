package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"backend/pkg/manager"
)

// rateLimitEntry 单个IP的请求计数
type rateLimitEntry struct {
	count     int
	lastReset time.Time
	mu        sync.Mutex
}

// rateLimiter 基于IP的简单限流器
type rateLimiter struct {
	rps     int
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
}

func newRateLimiter(rps int) *rateLimiter {
	return &rateLimiter{rps: rps, entries: make(map[string]*rateLimitEntry)}
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		rl.mu.RLock()
		entry, exists := rl.entries[ip]
		rl.mu.RUnlock()
		if !exists {
			rl.mu.Lock()
			entry = &rateLimitEntry{lastReset: time.Now()}
			rl.entries[ip] = entry
			rl.mu.Unlock()
		}

		entry.mu.Lock()
		if time.Since(entry.lastReset) >= time.Second {
			entry.count = 0
			entry.lastReset = time.Now()
		}
		if entry.count >= rl.rps {
			entry.mu.Unlock()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
			c.Abort()
			return
		}
		entry.count++
		entry.mu.Unlock()

		c.Next()
	}
}

// corsMiddleware 按配置放行跨域来源，空列表表示全部放行
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ServerConfig API服务器配置
type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	EnableRateLimit bool
	RateLimitRPS    int
}

// Server Agent控制面HTTP服务器
type Server struct {
	router     *gin.Engine
	mgr        *manager.Manager
	port       int
	httpServer *http.Server
}

// NewServer 创建API服务器并注册路由
func NewServer(mgr *manager.Manager, cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.EnableRateLimit {
		router.Use(newRateLimiter(cfg.RateLimitRPS).middleware())
	}

	s := &Server{
		router: router,
		mgr:    mgr,
		port:   cfg.Port,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.POST("/pause", s.handleGlobalPause)
		apiGroup.POST("/resume", s.handleGlobalResume)

		apiGroup.GET("/agents", s.handleListAgents)
		apiGroup.GET("/agents/:id", s.handleGetAgent)
		apiGroup.GET("/agents/:id/turns", s.handleAgentTurns)
		apiGroup.POST("/agents/:id/pause", s.handlePauseAgent)
		apiGroup.POST("/agents/:id/resume", s.handleResumeAgent)
		apiGroup.POST("/agents/:id/reset", s.handleResetAgent)
		apiGroup.POST("/agents/:id/positions/:pid/close", s.handleManualClose)
	}
}

// Run 启动HTTP服务
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	log.Printf("🌐 API服务器监听 :%d", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API服务器异常退出: %w", err)
	}
	return nil
}

// Shutdown 优雅停机
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agent_count": len(s.mgr.AgentIDs()),
		"paused":      s.mgr.Scheduler().IsPaused(),
	})
}

func (s *Server) handleGlobalPause(c *gin.Context) {
	s.mgr.Scheduler().Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleGlobalResume(c *gin.Context) {
	s.mgr.Scheduler().Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.mgr.AgentSnapshots()})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	snapshot, err := s.mgr.AgentSnapshot(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", snapshot)
}

func (s *Server) handleAgentTurns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	turns, err := s.mgr.RecentTurns(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

func (s *Server) handlePauseAgent(c *gin.Context) {
	if err := s.mgr.SetAgentPaused(c.Param("id"), true); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResumeAgent(c *gin.Context) {
	if err := s.mgr.SetAgentPaused(c.Param("id"), false); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleResetAgent(c *gin.Context) {
	if err := s.mgr.ResetAgent(c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (s *Server) handleManualClose(c *gin.Context) {
	notes, err := s.mgr.ManualClosePosition(c.Param("id"), c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}
