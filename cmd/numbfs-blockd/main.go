package main

import (
	"flag"
	"log"

	"github.com/AnishMulay/numbfs/servers/blockd"
)

func main() {
	var (
		nodeID   = flag.String("node-id", "", "Node ID used in log records")
		listen   = flag.String("listen", "localhost:7070", "Listen address")
		image    = flag.String("image", "", "Volume image to serve")
		logDir   = flag.String("log-dir", "", "Log directory (stderr when empty)")
		logLevel = flag.String("log-level", "INFO", "Log level")
	)
	flag.Parse()

	if *image == "" {
		log.Fatal("--image is required")
	}

	server, err := blockd.Build(blockd.Options{
		NodeID:     *nodeID,
		ListenAddr: *listen,
		Image:      *image,
		LogDir:     *logDir,
		LogLevel:   *logLevel,
	})
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}
	if err := server.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
