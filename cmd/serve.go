package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TalkingAvatar-server/routers"
	"TalkingAvatar-server/routers/api"
	"TalkingAvatar-server/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var embeddedWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. When Redis is configured, ?async=true requests are
queued and, unless --embedded-worker=false, consumed in the same process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", true, "consume the generation queue in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	h := &api.Handler{
		Store:     a.store,
		Gen:       a.gen,
		Preview:   a.preview,
		Providers: a.cfg.Providers.Enabled(),
		Log:       a.log,
	}
	if a.queue != nil {
		h.Queue = a.queue
		if embeddedWorker {
			processor := service.NewProcessor(a.gen, a.log)
			go func() {
				if err := processor.Run(a.cfg.Redis, a.cfg.Queue.Concurrency); err != nil {
					a.log.Error("generation processor stopped", zap.Error(err))
				}
			}()
		}
	}

	r := routers.InitRouter(h, routers.Options{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Limiter:        service.NewRateLimiter(a.cfg.RateLimit.RequestsPerMinute, a.redis, a.log),
		Log:            a.log,
	})
	srv := &http.Server{Addr: a.cfg.Server.Port, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-quit:
		a.log.Info("shutting down", zap.String("signal", sig.String()))
	}

	// 正在执行的生成会被标记为 failed
	if n := a.gen.Shutdown(); n > 0 {
		a.log.Warn("in-flight generations canceled", zap.Int("count", n))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
