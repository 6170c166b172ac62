package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coldirongames/relay/internal/metrics"
	"github.com/coldirongames/relay/internal/protocol"
)

func main() {
	cfg := ParseFlags(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("[relay] resolve %s: %v", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("[relay] listen %s: %v", cfg.ListenAddr, err)
	}
	defer conn.Close()
	log.Printf("[relay] listening on %s", cfg.ListenAddr)

	mtr := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[relay] shutting down...")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("[metrics] listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && ctx.Err() == nil {
				log.Printf("[metrics] %v", err)
			}
		}()
	}

	srv := NewServer(conn, logger, mtr)

	room := NewRoom(RoomId(1), demoPermissions())
	worker := NewRoomWorker(room, logger, mtr, srv.sendTo)
	srv.AddRoom(ctx, room.ID, worker)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[relay] %v", err)
	}
}

// demoPermissions builds a minimal permission table for the bring-up
// default room: field 0 of template 0, as a long, double, structure, or
// event field, is readable and writable by every access group.
func demoPermissions() *PermissionTable {
	t := NewPermissionTable()
	all := protocol.AccessGroups(^uint64(0))
	t.AddRule(0, 0, protocol.FieldLong, all, protocol.AccessReadWrite)
	t.AddRule(0, 0, protocol.FieldDouble, all, protocol.AccessReadWrite)
	t.AddRule(0, 0, protocol.FieldStructure, all, protocol.AccessReadWrite)
	t.AddRule(0, 0, protocol.FieldEvent, all, protocol.AccessReadWrite)
	return t
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
