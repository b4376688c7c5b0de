package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/kmacoskey/haas/app"
	"github.com/kmacoskey/haas/daos"
	"github.com/kmacoskey/haas/gce"
	"github.com/kmacoskey/haas/handlers"
	"github.com/kmacoskey/haas/reaper"
	"github.com/kmacoskey/haas/remote"
	"github.com/kmacoskey/haas/services"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Server configuration
	if err := app.LoadServerConfig(&app.GlobalServerConfig, "."); err != nil {
		panic(fmt.Errorf("Invalid application configuration: %s", err))
	}
	config := app.GlobalServerConfig

	// Logging
	if err := app.InitLogger(config.Logging); err != nil {
		panic(fmt.Errorf("Logging Initialization Failed: %s", err))
	}

	// Database Connection
	db, err := app.DatabaseConnect(config.ConnStr)
	if err != nil {
		panic(fmt.Errorf("Connection to Database Failed: %s", err))
	}
	defer db.Close()

	// Cluster lifecycle service against the live compute API
	providers := func(project string, zone string) (services.ComputeProvider, error) {
		return gce.NewApi(project, zone)
	}
	cs := services.NewClusterService(daos.NewClusterDao(), providers, remote.NewClient(), db, config.CloudStorageBucket)

	// Routing
	router := mux.NewRouter()
	handlers.ServeClusterResources(router, cs)

	// Resume teardowns interrupted by a restart
	clusterReaper, err := reaper.NewClusterReaper(config.ReapInterval, cs)
	if err != nil {
		panic(fmt.Errorf("Reaper Initialization Failed: %s", err))
	}
	clusterReaper.StartReaping()

	// Start the server
	server := StartHttpServer(router)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

// StartHttpServer serves the router in the background and returns the server
// for the caller to shut down.
func StartHttpServer(router *mux.Router) *http.Server {
	logger := log.WithFields(log.Fields{"topic": "haas", "package": "main", "event": "serve"})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.GlobalServerConfig.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info(fmt.Sprintf("listening on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err.Error())
		}
	}()

	return server
}
