package main

import (
	"github.com/OFFIS-RIT/medgraph/internal/app"
	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/internal/server"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	app.InitLogger(cfg, "server")
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	server.Init(cfg)
}
