package sl032

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the SL032's factory serial speed.
const DefaultBaudRate = 115200

// OpenPort opens the serial device the reader hangs off, 8N1 at the given
// baud rate. The port read timeout is kept short so the Reader can poll
// against its own deadline.
func OpenPort(device string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}

	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		port.Close()

		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return port, nil
}
