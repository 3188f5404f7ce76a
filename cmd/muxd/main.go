package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/loppo-llc/muxd/internal/backend"
	"github.com/loppo-llc/muxd/internal/config"
	"github.com/loppo-llc/muxd/internal/dispatch"
	"github.com/loppo-llc/muxd/internal/muxsession"
	"github.com/loppo-llc/muxd/internal/notify"
	"github.com/loppo-llc/muxd/internal/plugin"
	"github.com/loppo-llc/muxd/internal/rpc"
	"github.com/loppo-llc/muxd/internal/store"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.Version {
		fmt.Println("muxd", version)
		return
	}

	logLevel := slog.LevelInfo
	if cfg.Dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, err := store.Open(cfg.StateDir, logger)
	if err != nil {
		logger.Error("failed to open state store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	mgr := muxsession.NewManager(cfg.SessionConfig(), logger)
	if os.Getenv("MUXD_BACKEND") == "tmux" {
		mgr.Backend = backend.NewTmuxBackend()
		logger.Info("mirroring session/pane lifecycle into tmux backend")
	}

	if snap, err := st.Load(); err != nil {
		logger.Error("failed to load persisted state", "err", err)
	} else if len(snap.Sessions) > 0 {
		result, err := mgr.RestoreState(st, nil, true)
		if err != nil {
			logger.Error("failed to restore state", "err", err)
		} else {
			logger.Info("restored sessions", "count", len(result.Restored), "failed", len(result.Failed))
		}
	}

	d := dispatch.New(mgr, nil, logger)

	runtime := plugin.NewRuntime(d, logger)
	if err := runtime.Register(plugin.NewTemplatePlugin()); err != nil {
		logger.Error("failed to register session-templates plugin", "err", err)
	}
	runtime.Start()
	defer runtime.Shutdown()

	scheduler, err := store.NewScheduler(st, mgr, logger, "@every 1m", "@every 1h")
	if err != nil {
		logger.Error("failed to construct persistence scheduler", "err", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	pushMgr, err := notify.NewManager(logger)
	if err != nil {
		logger.Warn("push notifications unavailable", "err", err)
	}
	var sinks []notify.Sink
	if pushMgr != nil {
		sinks = append(sinks, pushMgr)
	}
	if token := os.Getenv("MUXD_SLACK_TOKEN"); token != "" {
		if channel := os.Getenv("MUXD_SLACK_CHANNEL"); channel != "" {
			sinks = append(sinks, notify.NewSlackSink(token, channel, logger))
		}
	}
	bridge := notify.NewBridge(d.Bus(), sinks...)
	bridge.Start()
	defer bridge.Stop()

	rpcServer := rpc.NewServer(mgr, d, logger)
	if secret := os.Getenv("MUXD_TOTP_SECRET"); secret != "" {
		rpcServer.RequireTOTP(secret)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcServer.Start(ctx)

	mcpServer := server.NewMCPServer("muxd", version)
	plugin.MountMCP(mcpServer, runtime)
	mcpHandler := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/rpc", rpcServer)
	mux.Handle("/mcp", mcpHandler)
	httpSrv := &http.Server{Handler: mux}

	if cfg.Local || cfg.Dev {
		ln, err := listenWithFallback("127.0.0.1", addrPort(cfg.Addr), 10, logger)
		if err != nil {
			logger.Error("failed to listen", "err", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "\n  muxd v%s running at:\n\n    ws://%s/rpc\n\n", version, ln.Addr().String())
		go func() {
			if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		}()
	} else {
		tsServer := &tsnet.Server{
			Hostname: "muxd",
			Logf:     func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
		}
		defer tsServer.Close()

		ln, err := tsServer.ListenTLS("tcp", cfg.Addr)
		if err != nil {
			logger.Error("failed to listen on tailscale", "err", err)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "\n  muxd v%s running at:\n\n", version)
		if lc, err := tsServer.LocalClient(); err == nil && lc != nil {
			if status, err := lc.Status(ctx); err == nil && status.Self != nil {
				dnsName := strings.TrimSuffix(status.Self.DNSName, ".")
				if dnsName != "" {
					fmt.Fprintf(os.Stderr, "    wss://%s%s/rpc\n", dnsName, cfg.Addr)
				}
			}
		}
		fmt.Fprintln(os.Stderr)

		go func() {
			httpSrv.TLSConfig = &tls.Config{}
			if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if saved, err := mgr.SaveState(st, nil); err != nil {
		logger.Error("final state save failed", "err", err)
	} else {
		logger.Info("final state saved", "sessions", len(saved))
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

// addrPort extracts the numeric port from a ":PORT" style address for
// the local-mode port-fallback listener; defaults to 7890 on parse
// failure.
func addrPort(addr string) int {
	parts := strings.Split(addr, ":")
	if len(parts) == 0 {
		return 7890
	}
	port, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 7890
	}
	return port
}

func listenWithFallback(host string, startPort, maxAttempts int, logger *slog.Logger) (net.Listener, error) {
	for i := range maxAttempts {
		port := startPort + i
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				logger.Info("port was busy, using fallback", "requested", startPort, "actual", port)
			}
			return ln, nil
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all ports %d-%d are in use", startPort, startPort+maxAttempts-1)
}
