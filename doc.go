/*
Package shardserver provides a sharded, epoll-driven HTTP/1.x server for Linux.

Shard-Server is built around a single accepting loop that spreads connections
across a fixed pool of per-worker reactors. Each worker owns its own epoll
instance, a slice of the fd-indexed connection slot table, and a FIFO "death
ring" that ages idle keep-alive connections out after a configurable timeout.
Every connection slot and its buffers are allocated once at startup and reused
across connections; buffers grow on demand and are freed only at shutdown.

Features

  - One acceptor thread, N edge-triggered worker reactors (N = CPU count, at least 2)
  - Connection slots addressed directly by file descriptor, sized to the
    process fd limit raised at startup
  - Per-worker keep-alive expiry via a fixed-capacity FIFO ring
  - HTTP/1.x parsing with pipelining support; the request line is not copied
  - Longest-prefix URL routing via a byte trie
  - Zero-copy static file serving with sendfile and an LRU fd cache
  - Optional worker-to-CPU pinning

Quick Start

Basic usage example:

package main

import (
    "github.com/searchktools/shard-server/app"
    "github.com/searchktools/shard-server/config"
    "github.com/searchktools/shard-server/core/http"
)

func main() {
    cfg := config.New()
    application := app.New(cfg)

    server := application.Server()
    server.Handle("/hello", func(ctx *http.Context) {
        ctx.String(200, "Hello, World!")
    })

    server.Handle("/json", func(ctx *http.Context) {
        ctx.JSON(200, map[string]string{
            "message": "Shard Server",
            "status":  "running",
        })
    })

    application.Run()
}

Modules

The server is organized into several modules:

  - app: Application lifecycle and signal handling
  - config: Configuration loading
  - core: Acceptor, scheduler, worker reactors, slot table, death ring
  - core/http: HTTP request parsing and response building
  - core/router: Prefix-trie URL routing
  - core/pools: Connection buffers and GC tuning
  - core/poller: epoll wrapper
  - core/sendfile: Zero-copy file serving with fd caching

The server runs the acceptor on the calling goroutine until an interrupt or
termination signal arrives, then joins every worker and releases all
connection state.
*/
package shardserver
