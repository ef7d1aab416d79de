/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	figure "github.com/common-nighthawk/go-figure"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/configuration"
	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/socket"
	"github.com/euroscaffolds/session-agent/utils"
)

const appName = "euroscaffolds-session-agent"

func main() {
	// init logger
	logs.Init(appName)

	// init configuration
	configuration.Init()
	logs.SetLevel(configuration.Config.LogLevel)

	displayAppname("Euro Scaffolds")

	// wire the session lifecycle
	a, err := newAgent(configuration.Config)
	if err != nil {
		utils.LogError(err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		utils.LogError(errors.Wrap(err, "[MAIN] cannot start storage polling"))
		os.Exit(1)
	}

	// create router
	router := createRouter(a)

	server := &http.Server{
		Addr:    configuration.Config.ListenAddress,
		Handler: router,
	}

	go func() {
		logs.Log("[INFO][MAIN] Listening on " + configuration.Config.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.LogError(errors.Wrap(err, "[MAIN] server error"))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		utils.LogError(errors.Wrap(err, "[MAIN] shutdown"))
	}
}

func createRouter(a *agent) *gin.Engine {
	// disable log to stdout when running in release mode
	if gin.Mode() == gin.ReleaseMode {
		gin.DefaultWriter = io.Discard
	}

	// init routers
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(
		gin.LoggerWithWriter(gin.DefaultWriter),
		gin.Recovery(),
	)

	// websocket endpoint, registered before compression
	router.GET("/ws/session", socket.SessionHandler(a.connections, a.sync))

	// add default compression
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// cors configuration only in debug mode GIN_MODE=debug (default)
	if gin.Mode() == gin.DebugMode {
		corsConf := cors.DefaultConfig()
		corsConf.AllowHeaders = []string{"Authorization", "Content-Type", "Accept"}
		corsConf.AllowAllOrigins = true
		router.Use(cors.New(corsConf))
	}

	h := a.handlers

	// login screen
	router.POST("/login/otp", h.OTPRequest)
	router.POST("/login/otp/resend", h.OTPResend)
	router.POST("/login/otp/verify", h.OTPVerify)
	router.GET("/login/otp", h.OTPStatus)
	router.DELETE("/login/otp", h.OTPCancel)

	router.POST("/logout", h.Logout)
	router.GET("/session", h.Session)
	router.GET("/health", h.Health)

	// protected routes
	protected := router.Group("/api")
	protected.Use(a.guard.Middleware())
	{
		protected.GET("/init", h.InitStatus)
		protected.GET("/masterdata/:resource", h.GetMasterData)
		protected.POST("/masterdata/:resource/refresh", h.RefreshMasterData)
	}

	return router
}

func displayAppname(name string) {
	banner := figure.NewFigure(name, "cybermedium", true)
	banner.Print()
	fmt.Println()
}
