package app

import (
	"log"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/config"
	"github.com/searchktools/shard-server/core"
	"github.com/searchktools/shard-server/core/pools"
)

// App ties the server lifecycle to the process: init, signal-driven
// shutdown, teardown.
type App struct {
	cfg    *config.Config
	server *core.Server
}

// New creates an application instance.
func New(cfg *config.Config) *App {
	return &App{
		cfg:    cfg,
		server: core.NewServer(cfg),
	}
}

// Server returns the underlying server for handler registration.
func (a *App) Server() *core.Server {
	return a.server
}

// Run initializes the server, runs the acceptor on the calling goroutine
// until an interrupt arrives, then tears everything down. Returns only on
// a clean shutdown; init failures abort the process.
func (a *App) Run() {
	pools.ServerGCConfig().Apply()

	if err := a.server.Init(); err != nil {
		log.Fatalf("Server init failed: %v", err)
	}

	go a.awaitSignal()

	if err := a.server.Run(); err != nil {
		log.Fatalf("Acceptor failed: %v", err)
	}

	a.server.Shutdown()
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, unix.SIGTERM)

	sig := <-quit
	log.Printf("Signal %v received.", sig)

	a.server.Stop()
}
