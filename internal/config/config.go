// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/rudp"
	"github.com/1ureka/rudp/internal/transport"
)

// Role represents the endpoint this process plays.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Transport selects the datagram path frames travel over.
type Transport string

const (
	TransportUDP    Transport = "udp"
	TransportWebRTC Transport = "webrtc"
)

// Config stores all parameters gathered from flags or interactive prompts.
type Config struct {
	Role      Role
	Transport Transport

	// UDP endpoint. The responder binds Bind:Port; the initiator sends to
	// Host:Port.
	Bind string
	Host string
	Port int

	Timeout   time.Duration // initiator: per-attempt wait
	Retries   int           // initiator: attempts per step
	ChunkSize int           // initiator: payload bytes per DATA frame
	Message   string        // initiator: payload file, "-" for stdin, "" for the demo message

	DelayMin time.Duration // responder: artificial ack delay bounds
	DelayMax time.Duration

	Loss float64 // outbound drop probability, both roles

	WSPort   int    // responder, webrtc: signaling server port (0 = random)
	WSListen bool   // responder, webrtc: listen on all interfaces
	WSURL    string // initiator, webrtc: signaling URL including ?pin=

	StatsInterval time.Duration
	Debug         bool
}

// Default returns the stock configuration with no role chosen.
func Default() Config {
	ic := rudp.DefaultInitiatorConfig()
	rc := rudp.DefaultResponderConfig()
	return Config{
		Transport:     TransportUDP,
		Bind:          "0.0.0.0",
		Host:          "127.0.0.1",
		Port:          30077,
		Timeout:       ic.Timeout,
		Retries:       ic.MaxAttempts,
		ChunkSize:     ic.ChunkSize,
		DelayMin:      rc.AckDelayMin,
		DelayMax:      rc.AckDelayMax,
		StatsInterval: 5 * time.Second,
	}
}

// BindFlags registers every field on fs, with the current values as defaults.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.Func("role", "Role: initiator or responder (interactive if omitted)", func(s string) error {
		c.Role = Role(s)
		return nil
	})
	fs.Func("transport", "Datagram transport: udp or webrtc (default udp)", func(s string) error {
		c.Transport = Transport(s)
		return nil
	})
	fs.StringVar(&c.Bind, "bind", c.Bind, "Address the responder listens on (responder)")
	fs.StringVar(&c.Host, "host", c.Host, "Responder host to send to (initiator)")
	fs.IntVar(&c.Port, "port", c.Port, "Responder UDP port, 1~65535")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Per-attempt response timeout (initiator)")
	fs.IntVar(&c.Retries, "retries", c.Retries, "Attempts per step before giving up (initiator)")
	fs.IntVar(&c.ChunkSize, "chunk", c.ChunkSize, "Payload bytes per DATA frame (initiator)")
	fs.StringVar(&c.Message, "message", c.Message, "File to send, '-' for stdin; demo message if empty (initiator)")
	fs.DurationVar(&c.DelayMin, "delay-min", c.DelayMin, "Minimum artificial ACK delay (responder)")
	fs.DurationVar(&c.DelayMax, "delay-max", c.DelayMax, "Maximum artificial ACK delay (responder); above the initiator's -timeout, transfers may fail")
	fs.Float64Var(&c.Loss, "loss", c.Loss, "Probability of dropping each outbound datagram, 0 <= loss < 1")
	fs.IntVar(&c.WSPort, "wsPort", c.WSPort, "WebSocket signaling server port (responder, webrtc only)")
	fs.BoolVar(&c.WSListen, "wsListen", c.WSListen, "Listen on all network interfaces (responder, webrtc only)")
	fs.StringVar(&c.WSURL, "wsUrl", c.WSURL, "WebSocket URL to connect to (initiator, webrtc only)")
	fs.DurationVar(&c.StatsInterval, "stats", c.StatsInterval, "Traffic statistics interval, 0 disables")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Role {
	case RoleInitiator, RoleResponder:
	default:
		add("invalid role %q: must be 'initiator' or 'responder'", c.Role)
	}

	switch c.Transport {
	case TransportUDP:
		if c.Port < 1 || c.Port > 65535 {
			add("invalid port %d: must be 1~65535", c.Port)
		}
	case TransportWebRTC:
		if c.WSPort < 0 || c.WSPort > 65535 {
			add("invalid wsPort %d: must be 0~65535", c.WSPort)
		}
		if c.Role == RoleInitiator && c.WSURL == "" {
			add("missing -wsUrl for initiator over webrtc")
		}
	default:
		add("invalid transport %q: must be 'udp' or 'webrtc'", c.Transport)
	}

	if c.Timeout <= 0 {
		add("timeout must be positive, got %s", c.Timeout)
	}
	if c.Retries < 1 {
		add("retries must be at least 1, got %d", c.Retries)
	}
	if c.ChunkSize < 1 || protocol.HeaderSize+c.ChunkSize > transport.MaxDatagramSize {
		add("chunk must be 1~%d bytes, got %d", transport.MaxDatagramSize-protocol.HeaderSize, c.ChunkSize)
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		add("invalid ack delay range [%s, %s]", c.DelayMin, c.DelayMax)
	}
	if c.Loss < 0 || c.Loss >= 1 {
		add("loss must be in [0, 1), got %g", c.Loss)
	}
	if c.StatsInterval < 0 {
		add("stats interval must not be negative, got %s", c.StatsInterval)
	}

	return errors.Join(errs...)
}

// InitiatorConfig projects the initiator-side fields.
func (c *Config) InitiatorConfig() rudp.InitiatorConfig {
	return rudp.InitiatorConfig{
		Timeout:     c.Timeout,
		MaxAttempts: c.Retries,
		ChunkSize:   c.ChunkSize,
	}
}

// ResponderConfig projects the responder-side fields. The sink is left to
// the caller.
func (c *Config) ResponderConfig() rudp.ResponderConfig {
	return rudp.ResponderConfig{
		AckDelayMin: c.DelayMin,
		AckDelayMax: c.DelayMax,
	}
}

// WSAddr is the signaling server listen address for the responder.
func (c *Config) WSAddr() string {
	switch {
	case c.WSListen:
		return fmt.Sprintf(":%d", c.WSPort)
	case c.WSPort > 0:
		return fmt.Sprintf("127.0.0.1:%d", c.WSPort)
	default:
		return ":0"
	}
}
