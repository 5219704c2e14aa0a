// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/avdwal/callcore/internal/app"
	"github.com/avdwal/callcore/internal/config"
)

var (
	showHelp    = flag.Bool("h", false, "Show help")
	showVersion = flag.Bool("version", false, "Show version")
	cfgPath     = flag.String("config", "callcore.json", "Path to the config file")
	roomID      = flag.String("room", "", "Room to join")
	sessionID   = flag.String("session", "", "Pre-assigned session id (internal mode only)")
	verbose     = flag.Bool("v", false, "Debug logging")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("callcore v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}
	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "Error: -room is required")
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}

	if *verbose {
		logging.SetAllLoggers(logging.LevelDebug)
	} else {
		logging.SetAllLoggers(logging.LevelInfo)
	}

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s, fill in the signaling section and restart", *cfgPath)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		CfgPath:   *cfgPath,
		Cfg:       cfg,
		RoomID:    *roomID,
		SessionID: *sessionID,
	}); err != nil {
		log.Fatalf("Call failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("callcore - call signaling probe")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  callcore -room <id> [-config callcore.json]")
	fmt.Println()
	fmt.Println("Joins the room on the configured signaling backend and logs")
	fmt.Println("participant and connection state until interrupted.")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}
