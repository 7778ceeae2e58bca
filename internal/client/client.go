// Package client is the top-level orchestrator: it owns all three
// endpoints (control, serial, audio), derives their local session IDs,
// drives the control session through its handshake/login/auth state
// machine, and starts the serial/audio streams once the radio is
// ESTABLISHED.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"rsba1/internal/endpoint"
	"rsba1/internal/logging"
	"rsba1/internal/protocol"
	"rsba1/internal/session"
)

// Options configures a Client.
type Options struct {
	Address    string
	Username   string
	Password   string
	DeviceName string // client-side label only; has no effect on the wire
}

// Client is the single public entry point a CLI or embedding program
// uses to talk to one radio.
type Client struct {
	opts Options
	log  *logging.Logger

	controlEP *endpoint.Endpoint
	serialEP  *endpoint.Endpoint
	audioEP   *endpoint.Endpoint

	control *session.Control
	serial  *session.Serial
	audio   *session.Audio

	mu          sync.Mutex
	provisioned bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// New constructs a Client. Connect must be called before any traffic
// flows.
func New(opts Options, log *logging.Logger) *Client {
	controlSID := deriveLocalSID(opts.Address, "control")
	serialSID := deriveLocalSID(opts.Address, "serial")
	audioSID := deriveLocalSID(opts.Address, "audio")

	controlEP := endpoint.New("control", controlSID, log.With("control"))
	serialEP := endpoint.New("serial", serialSID, log.With("serial"))
	audioEP := endpoint.New("audio", audioSID, log.With("audio"))

	return &Client{
		opts:      opts,
		log:       log,
		controlEP: controlEP,
		serialEP:  serialEP,
		audioEP:   audioEP,
		control:   session.NewControl(controlEP, opts.Address, opts.Username, opts.Password, log.With("control")),
		serial:    session.NewSerial(serialEP, log.With("serial")),
		audio:     session.NewAudio(audioEP, log.With("audio")),
	}
}

// deriveLocalSID hashes the target address and stream name into a
// collision-resistant 32-bit local session ID (spec.md §3: "derived
// from a locally-unique source... or socket address hash"), avoiding a
// weaker scheme like a raw address checksum.
func deriveLocalSID(address, stream string) protocol.SessionID {
	sum := blake2b.Sum256([]byte(address + "|" + stream))
	return protocol.SessionID(uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3]))
}

// Events returns the control session's lifecycle event channel.
func (c *Client) Events() <-chan session.Event { return c.control.Events() }

// State returns the control session's current state.
func (c *Client) State() session.State { return c.control.State() }

// Connect initializes all three sockets, runs the control session's
// handshake/login/auth sequence, and starts the serial/audio endpoint
// handshakes concurrently so they're ready the moment provisioning
// completes. It returns once the control session has sent both auth
// frames (state PROVISIONING) or a fatal error occurs; ESTABLISHED is
// reported later on Events, and the serial/audio streams start then.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	ctx = c.ctx
	c.mu.Unlock()

	if err := c.controlEP.Init(c.opts.Address, protocol.ControlPort); err != nil {
		c.Close()
		return fmt.Errorf("client: control socket init: %w", err)
	}
	if err := c.serialEP.Init(c.opts.Address, protocol.SerialPort); err != nil {
		c.Close()
		return fmt.Errorf("client: serial socket init: %w", err)
	}
	if err := c.audioEP.Init(c.opts.Address, protocol.AudioPort); err != nil {
		c.Close()
		return fmt.Errorf("client: audio socket init: %w", err)
	}

	serialErrCh := make(chan error, 1)
	audioErrCh := make(chan error, 1)
	go func() { serialErrCh <- c.serialEP.Handshake(ctx, c.opts.Address) }()
	go func() { audioErrCh <- c.audioEP.Handshake(ctx, c.opts.Address) }()

	// Control.Run tears its own endpoint down on every failure path (see
	// control.go), so this Close only needs to reach the serial/audio
	// sockets started above.
	if err := c.control.Run(ctx); err != nil {
		c.Close()
		return fmt.Errorf("client: control session: %w", err)
	}

	go c.watchForEstablished(ctx, serialErrCh, audioErrCh)
	return nil
}

// watchForEstablished starts the serial/audio payload streams once both
// their endpoint handshakes and the control session's provisioning step
// have completed, matching spec.md §4.D's "endpoints become usable
// after their handshake completes" ordering.
func (c *Client) watchForEstablished(ctx context.Context, serialErrCh, audioErrCh <-chan error) {
	var serialUp, audioUp bool
	var serialErr, audioErr error

	for !serialUp || !audioUp {
		select {
		case serialErr = <-serialErrCh:
			serialUp = true
			if serialErr != nil {
				c.log.Warn("serial endpoint handshake failed", logging.Fields{"error": serialErr.Error()})
			}
		case audioErr = <-audioErrCh:
			audioUp = true
			if audioErr != nil {
				c.log.Warn("audio endpoint handshake failed", logging.Fields{"error": audioErr.Error()})
			}
		case <-ctx.Done():
			return
		}
	}

	// Polls rather than consuming c.control.Events(): that channel is the
	// public API surface (CLI, statuswatch) and must not be drained here.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.control.State() != session.StateEstablished {
				continue
			}
			if serialErr == nil {
				c.serial.Start(ctx)
			}
			if audioErr == nil {
				c.audio.Start(ctx)
			}
			c.mu.Lock()
			c.provisioned = true
			c.mu.Unlock()
			return
		case <-ctx.Done():
			return
		}
	}
}

// SendCIV transmits a CI-V command over the serial stream.
func (c *Client) SendCIV(cmd []byte) error {
	c.mu.Lock()
	ok := c.provisioned
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: serial stream not yet provisioned")
	}
	return c.serial.SendCIV(cmd)
}

// SendAudio transmits one frame of audio samples over the audio stream.
func (c *Client) SendAudio(samples []byte) error {
	c.mu.Lock()
	ok := c.provisioned
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: audio stream not yet provisioned")
	}
	return c.audio.SendSamples(samples)
}

// CIV returns the channel of inbound CI-V payloads.
func (c *Client) CIV() <-chan []byte { return c.serial.Recv() }

// Audio returns the channel of inbound audio payloads.
func (c *Client) Audio() <-chan []byte { return c.audio.Recv() }

// Close tears down the control session (sending deauth) and all three
// endpoints.
func (c *Client) Close() error {
	err := c.control.Close()
	c.serial.Stop()
	c.audio.Stop()
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	return err
}
