package desfire

import "errors"

// Reader-side failures. Card-reported statuses are PICCStatus values.
var (
	// ErrMalformedKey is returned when key material has the wrong length
	// or an unknown type.
	ErrMalformedKey = errors.New("malformed key")
	// ErrCryptoVerification is returned when a response MAC, CMAC or
	// checksum does not verify.
	ErrCryptoVerification = errors.New("crypto verification failed")
	// ErrAuthenticationFailed is returned when the card's proof of the
	// shared key does not match.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnsupportedSettings is returned for a communication mode the
	// pipeline does not implement.
	ErrUnsupportedSettings = errors.New("unsupported communication settings")
	// ErrNotConnected is returned when an operation needs an activated
	// card.
	ErrNotConnected = errors.New("no card connected")
	// ErrAlreadyConnected is returned by Connect on an active session.
	ErrAlreadyConnected = errors.New("card already connected")
	// ErrNotAuthenticated is returned when an operation needs a session
	// key.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrLengthExceeded is returned when a payload does not fit the
	// command's limits.
	ErrLengthExceeded = errors.New("data length exceeded")
)

// errCodeCrypto is the reader-side error code recorded when verification of
// received data fails.
const errCodeCrypto byte = 0x01
