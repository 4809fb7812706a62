// Package bridge exposes a contactless reader over a TCP socket so that
// card exchanges can be driven from another host. Each request carries a
// one-byte opcode followed by an optional native command frame; the
// response carries the card status followed by the response payload.
package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	anetserver "github.com/andrei-cloud/anet/server"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_desfire/internal/logging"
	"github.com/andrei-cloud/go_desfire/pkg/desfire"
)

// Request opcodes understood by the bridge.
const (
	OpConnect    = 0x01 // activate a card, response data is the UID.
	OpDisconnect = 0x02 // deactivate the card.
	OpTransceive = 0x03 // forward the native frame that follows.
)

// Response status codes for bridge-level failures. Card statuses are
// returned verbatim for OpTransceive.
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// logAdapter implements anet.Logger using zerolog.
type logAdapter struct{}

func (l logAdapter) Print(v ...any) {
	log.Info().Msg(fmt.Sprint(v...))
}

func (l logAdapter) Printf(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Infof(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Warnf(format string, v ...any) {
	log.Warn().Msgf(format, v...)
}

func (l logAdapter) Errorf(format string, v ...any) {
	log.Error().Msgf(format, v...)
}

// Bridge wraps the anet TCP server and a single card transport. Access to
// the transport is serialized because only one exchange can be in flight
// on a contactless interface.
type Bridge struct {
	address     string
	srv         *anetserver.Server
	transport   desfire.Transceiver
	mu          sync.Mutex // guards transport
	sessions    sync.Map   // remote address -> session id
	activeConns int32
}

// New configures and returns the bridge server instance.
func New(address string, transport desfire.Transceiver) (*Bridge, error) {
	cfg := &anetserver.ServerConfig{
		MaxConns:        16,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     0 * time.Second, // disable idle connection closure.
		ShutdownTimeout: 5 * time.Second,
		Logger:          logAdapter{},
	}

	b := &Bridge{
		address:   address,
		transport: transport,
	}
	handler := anetserver.HandlerFunc(b.handle)
	srv, err := anetserver.NewServer(address, handler, cfg)
	if err != nil {
		return nil, fmt.Errorf("bridge setup failed: %w", err)
	}
	b.srv = srv

	return b, nil
}

// Start begins listening for connections.
func (b *Bridge) Start() error {
	log.Info().Str("address", b.address).Msg("bridge started")
	return b.srv.Start()
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() error {
	return b.srv.Stop()
}

// sessionID returns the correlation id for a client, creating one on the
// first request of a connection.
func (b *Bridge) sessionID(client string) string {
	if id, ok := b.sessions.Load(client); ok {
		return id.(string)
	}
	id := uuid.NewString()
	b.sessions.Store(client, id)

	return id
}

// handle processes a single bridge request.
func (b *Bridge) handle(conn *anetserver.ServerConn, data []byte) ([]byte, error) {
	client := conn.Conn.RemoteAddr().String()
	session := b.sessionID(client)
	atomic.AddInt32(&b.activeConns, 1)
	defer atomic.AddInt32(&b.activeConns, -1)

	if len(data) < 1 {
		log.Error().
			Str("session", session).
			Str("client_ip", client).
			Msg("malformed request")
		return nil, errors.New("malformed request")
	}

	start := time.Now()
	op := data[0]
	payload := data[1:]
	log.Debug().
		Str("event", "request_received").
		Str("session", session).
		Str("client_ip", client).
		Uint8("op", op).
		Str("request_hex", hex.EncodeToString(payload)).
		Int("active_connections", int(atomic.LoadInt32(&b.activeConns))).
		Msg("received request")

	b.mu.Lock()
	resp := b.execute(session, op, payload)
	b.mu.Unlock()

	log.Info().
		Str("event", "response_sent").
		Str("session", session).
		Str("client_ip", client).
		Uint8("op", op).
		Str("response_hex", hex.EncodeToString(resp)).
		Str("duration", time.Since(start).String()).
		Msg("sent response")

	return resp, nil
}

// execute dispatches one request against the transport. The first response
// byte is the status, bridge failures report StatusError with no payload.
func (b *Bridge) execute(session string, op byte, payload []byte) []byte {
	switch op {
	case OpConnect:
		uid, err := b.transport.Connect()
		if err != nil {
			log.Error().Str("session", session).Err(err).Msg("card activation failed")
			return []byte{StatusError}
		}

		return append([]byte{StatusOK}, uid...)

	case OpDisconnect:
		if err := b.transport.Disconnect(); err != nil {
			log.Error().Str("session", session).Err(err).Msg("card deactivation failed")
			return []byte{StatusError}
		}

		return []byte{StatusOK}

	case OpTransceive:
		if len(payload) == 0 {
			log.Error().Str("session", session).Msg("empty command frame")
			return []byte{StatusError}
		}

		logging.LogCommand(session, payload[0], payload[1:])
		start := time.Now()
		data, status, err := b.transport.Transceive(payload)
		if err != nil {
			log.Error().Str("session", session).Err(err).Msg("exchange failed")
			return []byte{StatusError}
		}
		logging.LogResponse(session, payload[0], status, data, time.Since(start))

		return append([]byte{status}, data...)

	default:
		log.Warn().Str("session", session).Uint8("op", op).Msg("unknown opcode")
		return []byte{StatusError}
	}
}
