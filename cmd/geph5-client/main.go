package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/geph-official/geph5/pkg/daemon"
	"github.com/geph-official/geph5/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the client configuration file (YAML or JSON)")
	flag.Parse()

	// Debug logging toggle via DEBUG env (truthy parser)
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		logging.SetLevel(logging.DebugLevel)
	}

	if *configPath == "" {
		log.Fatal("usage: geph5-client -config <file>")
	}
	blob, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := daemon.Start(blob); err != nil {
		log.Fatalf("start: %v", err)
	}

	// Optional periodic stats reporter
	if iv := strings.TrimSpace(os.Getenv("STATS_INTERVAL")); iv != "" {
		d, err := time.ParseDuration(iv)
		if err != nil {
			d = 30 * time.Second
		}
		go runStatsReporter(d)
	}

	// Wait for termination
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	if err := daemon.Stop(); err != nil {
		logging.Warnf("stop: %v", err)
	}
}
