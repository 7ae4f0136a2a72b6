// Package main 是 HTTP API 服务的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"resumecast-search/internal/bootstrap"
	"resumecast-search/internal/config"
	"resumecast-search/internal/handler"
	"resumecast-search/internal/middleware"
	"resumecast-search/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "server",
	Short:        "Serve the résumé embedding and semantic search API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
}

func run(parent context.Context) error {
	// 1. 初始化配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库、消息队列与服务
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("初始化依赖失败: %w", err)
	}
	defer app.Close()

	// 4. 按配置在进程内启动 worker
	var wg sync.WaitGroup
	if cfg.Worker.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.RunWorker(ctx); err != nil {
				log.Errorf("[EmbeddingWorker] worker 异常退出: %v", err)
			}
		}()
	}

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 6. 注册路由
	handler.RegisterRoutes(r,
		app.JWT,
		handler.NewEmbeddingHandler(app.QueueService),
		handler.NewSearchHandler(app.SearchService),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 消费者在 ctx 取消后不再提交 offset，未完成的消息会在重启后重新投递
	wg.Wait()
	log.Info("服务已优雅关闭")
	return nil
}

func main() {
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
