package desfire

import "fmt"

// Card status codes, returned as the last byte of every native response.
const (
	statusOperationOK      byte = 0x00
	statusNoChanges        byte = 0x0C
	statusOutOfEEPROM      byte = 0x0E
	statusIllegalCommand   byte = 0x1C
	statusIntegrityError   byte = 0x1E
	statusNoSuchKey        byte = 0x40
	statusLengthError      byte = 0x7E
	statusPermissionDenied byte = 0x9D
	statusParameterError   byte = 0x9E
	statusAppNotFound      byte = 0xA0
	statusAppIntegrity     byte = 0xA1
	statusAuthentication   byte = 0xAE
	statusAdditionalFrame  byte = 0xAF
	statusBoundaryError    byte = 0xBE
	statusPICCIntegrity    byte = 0xC1
	statusCommandAborted   byte = 0xCA
	statusPICCDisabled     byte = 0xCD
	statusCountError       byte = 0xCE
	statusDuplicateError   byte = 0xDE
	statusEEPROMError      byte = 0xEE
	statusFileNotFound     byte = 0xF0
	statusFileIntegrity    byte = 0xF1
)

// PICCStatus is a non-OK status byte reported by the card.
type PICCStatus byte

var piccStatusDescriptions = map[byte]string{
	statusOperationOK:      "successful operation",
	statusNoChanges:        "no changes done to backup files",
	statusOutOfEEPROM:      "insufficient NV memory to complete command",
	statusIllegalCommand:   "command code not supported",
	statusIntegrityError:   "CRC or MAC does not match data",
	statusNoSuchKey:        "invalid key number specified",
	statusLengthError:      "length of command string invalid",
	statusPermissionDenied: "current configuration or status does not allow command",
	statusParameterError:   "value of the parameter(s) invalid",
	statusAppNotFound:      "requested AID not present on PICC",
	statusAppIntegrity:     "unrecoverable error within application",
	statusAuthentication:   "current authentication status does not allow command",
	statusAdditionalFrame:  "additional data frame expected",
	statusBoundaryError:    "attempt to read or write beyond limits",
	statusPICCIntegrity:    "unrecoverable error within PICC",
	statusCommandAborted:   "previous command not fully completed",
	statusPICCDisabled:     "PICC disabled by unrecoverable error",
	statusCountError:       "maximum number of applications reached",
	statusDuplicateError:   "file or application already exists",
	statusEEPROMError:      "could not complete NV write operation",
	statusFileNotFound:     "specified file number does not exist",
	statusFileIntegrity:    "unrecoverable error within file",
}

func (s PICCStatus) Error() string {
	if desc, ok := piccStatusDescriptions[byte(s)]; ok {
		return fmt.Sprintf("picc status %#02x: %s", byte(s), desc)
	}

	return fmt.Sprintf("picc status %#02x: unknown", byte(s))
}

// Code returns the raw status byte.
func (s PICCStatus) Code() byte { return byte(s) }
