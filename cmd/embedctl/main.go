// Package main 提供 embedding 队列与 worker 的运维命令行工具。
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"resumecast-search/internal/config"
	"resumecast-search/pkg/log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "embedctl",
	Short:        "Operate the résumé embedding queue and worker",
	Long:         "embedctl runs the embedding worker without the HTTP API and inspects or maintains the Redis-backed job queue.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "Path to config.yaml")
}

// loadConfig 读取配置并初始化日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	defer log.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
