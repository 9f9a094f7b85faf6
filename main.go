package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"backend/pkg/api"
	"backend/pkg/config"
	"backend/pkg/db"
	"backend/pkg/manager"
	"backend/pkg/storage"
)

func main() {
	// .env存在时叠加到环境变量（本地开发用）
	if err := godotenv.Load(); err == nil {
		log.Println("✓ 已加载 .env")
	}

	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	dbManager, err := db.NewManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("❌ 初始化数据库失败: %v", err)
	}
	defer dbManager.Close()

	states, err := storage.NewStateStorage(dbManager)
	if err != nil {
		log.Fatalf("❌ 初始化账本存储失败: %v", err)
	}
	turns, err := storage.NewTurnStorage(dbManager)
	if err != nil {
		log.Fatalf("❌ 初始化回合记录存储失败: %v", err)
	}

	mgr, err := manager.New(cfg, states, turns)
	if err != nil {
		log.Fatalf("❌ 初始化Manager失败: %v", err)
	}

	log.Println("🚀 AI交易Agent引擎启动")
	mgr.Start()

	server := api.NewServer(mgr, api.ServerConfig{
		Port:            cfg.APIServerPort,
		AllowedOrigins:  cfg.APIServerConfig.AllowedOrigins,
		EnableRateLimit: cfg.APIServerConfig.EnableRateLimit,
		RateLimitRPS:    cfg.APIServerConfig.RateLimitRPS,
	})
	go func() {
		if err := server.Run(); err != nil {
			log.Printf("❌ %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("⏹ 收到退出信号，开始停机...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ API服务器停机失败: %v", err)
	}
	mgr.Stop()
	log.Println("✓ 已安全退出")
}
