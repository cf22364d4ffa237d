package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bilipub/internal/config"
	"bilipub/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "启动投稿 worker",
	Long: `从队列中持续消费投稿任务，收到 SIGINT/SIGTERM 后停止取新任务，
等待执行中的任务完成后退出。配置了 worker.metrics_addr 时同时暴露 /metrics。`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg := config.Get(); cfg != nil && workerConcurrency > 0 {
			cfg.Worker.Concurrency = workerConcurrency
		}
		application := mustApp(ctx)
		defer application.Close()
		cfg := application.Config

		var srv *http.Server
		if cfg.Worker.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv = &http.Server{
				Addr:              cfg.Worker.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics 服务已启动")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("metrics 服务异常退出")
				}
			}()
		}

		err := application.Runner.Run(ctx)

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		if err != nil {
			logger.Error().Err(err).Msg("投稿 worker 异常退出")
			os.Exit(1)
		}
		logger.Info().Msg("投稿 worker 已退出")
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "并发执行的任务数，默认取 worker.concurrency")
}
