package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/AnishMulay/numbfs/internal/config"
	"github.com/AnishMulay/numbfs/servers/mcpserver"
)

func main() {
	configPath := flag.String("config", "numbfs.yaml", "YAML config file, written with defaults when missing")
	flag.Parse()

	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		if err := config.WriteDefault(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		log.Printf("Wrote default config to %s", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	server, err := mcpserver.Build(mcpserver.Options{Config: cfg})
	if err != nil {
		log.Fatalf("Failed to build MCP server: %v", err)
	}
	if err := server.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
