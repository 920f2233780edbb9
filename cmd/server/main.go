package main

import (
	"log"
	"time"

	"dialogd/internal/realtime"
	"dialogd/internal/server"
	"dialogd/internal/storage"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	serverCfg := server.EnvConfig{}
	if err := env.Parse(&serverCfg); err != nil {
		sugar.Fatalf("Cannot parse server env config: %v", err)
	}

	storageCfg := storage.Config{}
	if err := env.Parse(&storageCfg); err != nil {
		sugar.Fatalf("Cannot parse storage env config: %v", err)
	}

	store, err := storage.New(sugar, storageCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	hub := realtime.NewHub(sugar, store, realtime.NewRegistry())

	srv, err := server.NewServer(sugar, serverCfg, store, hub, server.ReadTimeout(5*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
