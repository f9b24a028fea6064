package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"csr-volunteer/cache"
	"csr-volunteer/controllers"
	"csr-volunteer/driver"
	"csr-volunteer/middleware"
	"csr-volunteer/notify"
	"csr-volunteer/storage"
	"csr-volunteer/utils"
)

const notifyQueueSize = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	log.WithField("config", cfg.String()).Debug("configuration loaded")
	utils.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := driver.ConnectDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.WithField("addr", cfg.Redis.Addr).Info("redis connected")
	} else {
		log.Info("redis disabled, using in-memory token denylist and no analytics cache")
	}

	dispatcher := notify.NewDispatcher(log, notifyQueueSize, notify.SendersFromConfig(cfg, log)...)
	defer dispatcher.Close()

	env := &controllers.Env{
		Log: log,
		Tokens: &utils.TokenIssuer{
			Secret: cfg.Auth.Secret,
			Issuer: cfg.Auth.Issuer,
			TTL:    cfg.Auth.TokenTTL,
		},
		Denylist: cache.NewDenylist(redisClient),
		Cache:    cache.NewJSONCache(redisClient, cfg.Cache.AnalyticsTTL),
		Notifier: dispatcher,
		S3Prefix: cfg.S3.Prefix,
	}
	if cfg.S3.Enabled() {
		archiver, err := storage.NewS3Archiver(cfg.S3)
		if err != nil {
			return err
		}
		env.Archiver = archiver
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst).TrustProxies(proxies)
	limiter.StartCleanup(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      controllers.NewHandler(db, env, limiter, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Server.Addr, "driver": cfg.Database.Driver}).Info("server started")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
