package logging

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with the specified debug mode and output format.
func InitLogger(debug, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano                 // always initialize base logger with timestamp.
	base := zerolog.New(os.Stdout).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel) // set debug level.
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // set info level.
	}
}

// LogCommand logs a native command sent to the card with structured fields.
func LogCommand(
	session string,
	command byte,
	commandData []byte,
) {
	log.Info().
		Str("event", "command_sent").
		Str("session", session).
		Str("command", hex.EncodeToString([]byte{command})).
		Str("command_hex", hex.EncodeToString(commandData)).
		Msg("sent command")
}

// LogResponse logs a card response with structured fields.
func LogResponse(
	session string,
	command byte,
	status byte,
	responseData []byte,
	elapsed time.Duration,
) {
	log.Info().
		Str("event", "response_received").
		Str("session", session).
		Str("command", hex.EncodeToString([]byte{command})).
		Str("status", hex.EncodeToString([]byte{status})).
		Str("response_hex", hex.EncodeToString(responseData)).
		Str("duration", elapsed.String()).
		Msg("received response")
}
