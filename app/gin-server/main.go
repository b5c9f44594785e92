package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/casescribe/config"
	"github.com/yoockh/casescribe/internal/api/handlers"
	"github.com/yoockh/casescribe/internal/api/middleware"
	"github.com/yoockh/casescribe/internal/api/routes"
	"github.com/yoockh/casescribe/internal/bootstrap"
	"github.com/yoockh/casescribe/internal/logger"
)

func main() {
	config.LoadDotenv()

	settings, err := config.FromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, settings, bootstrap.Options{Stores: true, Workers: true, Logger: log})
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	if err := app.StartWorkers(ctx); err != nil {
		log.WithError(err).Fatal("workers failed to start")
	}

	if settings.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Analysis: handlers.NewAnalysisHandler(app.Analysis, settings.MaxUploadBytes),
		Admin:    handlers.NewAdminHandler(app.Analysis, app.Sessions, app.Archive),
		WS:       handlers.NewWSHandler(app, app.Sessions, log, settings.AllowedOrigins),
		Metrics:  app.Metrics.Handler(),
		Auth: middleware.JWTConfig{
			Secret:   settings.JWTSecret,
			Issuer:   settings.JWTIssuer,
			Audience: settings.JWTAudience,
		},
	})

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", settings.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.DrainGrace+10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	app.Sessions.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	app.Close(shutdownCtx)
}
