package cmd

import (
	"context"
	"fmt"
	"os"

	"bilipub/internal/app"
	"bilipub/internal/config"
	"bilipub/pkg/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bilipub",
	Short: "B站视频投稿 worker",
	Long: `从对象存储读取成片与元数据，按B站创作中心的分块上传协议上传视频并提交稿件。
支持显式分区、平台分区预测与大模型分区推荐三种分区决策方式，遇到预上传限流时自动退避重试。`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行命令时出错: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认: ./config.yaml)")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(categoriesCmd)
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)
}

// mustApp 初始化应用，失败直接退出
func mustApp(ctx context.Context) *app.App {
	cfg := config.Get()
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "配置未加载\n")
		os.Exit(1)
	}

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化应用失败: %v\n", err)
		os.Exit(1)
	}
	return application
}
