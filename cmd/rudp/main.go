// RUDP: CLI entry point.
//
// This tool moves a message reliably over an unreliable datagram path using
// a stop-and-wait protocol: SYN / SYN_ACK / ACK handshake, one DATA frame in
// flight at a time, FIN / FIN_ACK teardown. The path is a plain UDP socket by
// default, or an unordered, zero-retransmit WebRTC DataChannel negotiated
// over WebSocket.
//
// It can be launched interactively (no -role flag) or non-interactively via
// CLI flags; run with -h for the full list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/rudp"
	"github.com/1ureka/rudp/internal/signaling"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 once the initiator reaches CLOSED or
// the responder shuts down cleanly, 1 otherwise.
func run() int {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("RUDP v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			util.LogError("missing -role: stdin is not a terminal, cannot prompt")
			return 1
		}
		askRole(&cfg)
	}

	if cfg.Role == config.RoleInitiator && cfg.Transport == config.TransportWebRTC && cfg.WSURL != "" {
		wsURL, err := normalizeWSURL(cfg.WSURL)
		if err != nil {
			util.LogError("%v", err)
			return 1
		}
		cfg.WSURL = wsURL
	}

	if err := cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			util.LogError("%s", line)
		}
		return 1
	}

	conn, peer, err := openTransport(ctx, &cfg)
	if err != nil {
		util.LogError("failed to open %s transport: %v", cfg.Transport, err)
		return 1
	}
	defer conn.Close()

	if cfg.Loss > 0 {
		util.LogWarning("dropping %.0f%% of outbound datagrams", cfg.Loss*100)
	}
	conn = transport.NewLossyConn(conn, cfg.Loss, uint64(time.Now().UnixNano()))

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}
	defer func() { util.LogInfo("%s", util.Stats.Summary()) }()

	switch cfg.Role {
	case config.RoleInitiator:
		return runInitiator(ctx, &cfg, conn, peer)
	default:
		return runResponder(ctx, &cfg, conn)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInitiator sends the configured message and reports the outcome.
func runInitiator(ctx context.Context, cfg *config.Config, conn net.PacketConn, peer net.Addr) int {
	data, err := loadMessage(cfg.Message, os.Stdin)
	if err != nil {
		util.LogError("%v", err)
		return 1
	}

	in := rudp.NewInitiator(conn, peer, cfg.InitiatorConfig())
	in.OnState = func(s rudp.State, chunk int) {
		if s == rudp.StateTransferring {
			util.LogDebug("state %s(%d)", s, chunk)
			return
		}
		util.LogDebug("state %s", s)
	}

	util.LogInfo("sending %d bytes to %s in %d-byte chunks", len(data), peer, cfg.ChunkSize)
	if err := in.Run(ctx, data); err != nil {
		var failed *rudp.FailedError
		switch {
		case errors.As(err, &failed):
			util.LogError("%v", failed)
		case ctx.Err() != nil:
			util.LogWarning("interrupted in state %s", in.State())
		default:
			util.LogError("transfer aborted: %v", err)
		}
		return 1
	}

	util.LogSuccess("delivered %d bytes", len(data))
	return 0
}

// runResponder serves until Ctrl+C. Payload text goes to stdout; logs go to
// stderr.
func runResponder(ctx context.Context, cfg *config.Config, conn net.PacketConn) int {
	rc := cfg.ResponderConfig()
	rc.Sink = os.Stdout

	err := rudp.NewResponder(conn, rc).Serve(ctx)
	switch {
	case err == nil:
		util.LogInfo("responder stopped")
		return 0
	case cfg.Transport == config.TransportWebRTC && errors.Is(err, net.ErrClosed):
		// The DataChannel is single-peer; its closing ends the session.
		util.LogInfo("peer disconnected")
		return 0
	default:
		util.LogError("responder failed: %v", err)
		return 1
	}
}

// openTransport returns the datagram conn and, for the initiator, the
// responder's address on it.
func openTransport(ctx context.Context, cfg *config.Config) (net.PacketConn, net.Addr, error) {
	switch {
	case cfg.Transport == config.TransportWebRTC && cfg.Role == config.RoleResponder:
		conn, err := signaling.EstablishAsHost(ctx, cfg.WSAddr())
		if err != nil {
			return nil, nil, err
		}
		return conn, nil, nil

	case cfg.Transport == config.TransportWebRTC:
		conn, err := signaling.EstablishAsClient(ctx, cfg.WSURL)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.RemoteAddr(), nil

	case cfg.Role == config.RoleResponder:
		conn, err := transport.ListenUDP(cfg.Bind, cfg.Port)
		if err != nil {
			return nil, nil, err
		}
		return conn, nil, nil

	default:
		peer, err := transport.ResolveUDP(cfg.Host, cfg.Port)
		if err != nil {
			return nil, nil, err
		}
		conn, err := transport.ListenUDP("", 0)
		if err != nil {
			return nil, nil, err
		}
		return conn, peer, nil
	}
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askRole falls back to interactive prompts when no -role flag is provided.
func askRole(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Responder: Receive a message", "Initiator: Send a message"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Responder") {
		cfg.Role = config.RoleResponder
	} else {
		cfg.Role = config.RoleInitiator
	}

	if cfg.Role == config.RoleInitiator && cfg.Transport == config.TransportWebRTC && cfg.WSURL == "" {
		cfg.WSURL = askURL()
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. ws://127.0.0.1:8080/ws?pin=123456)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// normalizeWSURL validates a raw WebSocket URL and rewrites it to
// scheme://host/ws, keeping the pin query parameter.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	out := url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}
	if pin := u.Query().Get("pin"); pin != "" {
		out.RawQuery = url.Values{"pin": {pin}}.Encode()
	}
	return out.String(), nil
}
