package desfire

import "fmt"

// Card-level command codes.
const (
	cmdGetVersion       byte = 0x60
	cmdGetCardUID       byte = 0x51
	cmdFreeMemory       byte = 0x6E
	cmdFormatPICC       byte = 0xFC
	cmdSetConfiguration byte = 0x5C
)

// HardwareSoftwareInfo is one half of the version report.
type HardwareSoftwareInfo struct {
	VendorID     byte
	Type         byte
	Subtype      byte
	VersionMajor byte
	VersionMinor byte
	StorageSize  byte
	Protocol     byte
}

// VersionInfo is the card's manufacturing data.
type VersionInfo struct {
	Hardware       HardwareSoftwareInfo
	Software       HardwareSoftwareInfo
	UID            [uidLength]byte
	BatchNumber    [5]byte
	ProductionWeek byte
	ProductionYear byte
}

// Version retrieves the card's manufacturing data. The card delivers it in
// three chained frames which the transport layer reassembles.
func (t *Tag) Version() (*VersionInfo, error) {
	res, err := t.command([]byte{cmdGetVersion}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if len(res) < 28 {
		return nil, fmt.Errorf("get version: short response (%d bytes)", len(res))
	}

	info := &VersionInfo{}
	info.Hardware = parseHardwareSoftware(res[0:7])
	info.Software = parseHardwareSoftware(res[7:14])
	copy(info.UID[:], res[14:21])
	copy(info.BatchNumber[:], res[21:26])
	info.ProductionWeek = res[26]
	info.ProductionYear = res[27]

	return info, nil
}

func parseHardwareSoftware(b []byte) HardwareSoftwareInfo {
	return HardwareSoftwareInfo{
		VendorID:     b[0],
		Type:         b[1],
		Subtype:      b[2],
		VersionMajor: b[3],
		VersionMinor: b[4],
		StorageSize:  b[5],
		Protocol:     b[6],
	}
}

// CardUID retrieves the card's real UID, which differs from the anticollision
// UID when random ID is enabled. Requires a prior authentication with any
// key; the response is always enciphered.
func (t *Tag) CardUID() ([]byte, error) {
	if !t.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	res, err := t.command([]byte{cmdGetCardUID}, 1,
		CommPlain|CMACCommand, CommEnciphered)
	if err != nil {
		return nil, fmt.Errorf("get card uid: %w", err)
	}
	if len(res) < uidLength {
		return nil, fmt.Errorf("get card uid: short response (%d bytes)", len(res))
	}

	uid := make([]byte, uidLength)
	copy(uid, res)

	return uid, nil
}

// FreeMemory returns the unallocated card memory in bytes.
func (t *Tag) FreeMemory() (uint32, error) {
	res, err := t.command([]byte{cmdFreeMemory}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return 0, fmt.Errorf("get free memory: %w", err)
	}
	if len(res) < 3 {
		return 0, fmt.Errorf("get free memory: short response (%d bytes)", len(res))
	}

	return le24(res), nil
}

// FormatPICC releases all user memory. Requires authentication with the
// PICC master key and leaves no application selected.
func (t *Tag) FormatPICC() error {
	if !t.Authenticated() {
		return ErrNotAuthenticated
	}

	_, err := t.command([]byte{cmdFormatPICC}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("format picc: %w", err)
	}

	t.selectedApp = 0

	return nil
}

// SetConfiguration sets the card's permanent configuration flags. Both are
// irreversible; random UID in particular cannot be switched off again.
func (t *Tag) SetConfiguration(disableFormat, enableRandomUID bool) error {
	var flags byte
	if disableFormat {
		flags |= 0x01
	}
	if enableRandomUID {
		flags |= 0x02
	}

	cmd := []byte{cmdSetConfiguration, 0x00, flags}
	_, err := t.command(cmd, 2,
		CommEnciphered|EncCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}

	return nil
}

// SetDefaultKey pre-personalizes the card with the key installed for newly
// created applications.
func (t *Tag) SetDefaultKey(key *Key) error {
	cmd := make([]byte, 0, 27)
	cmd = append(cmd, cmdSetConfiguration, 0x01)

	length := 16
	if key.keyType == Type3K3DES {
		length = 24
	}
	cmd = append(cmd, key.data[:length]...)
	for len(cmd) < 26 {
		cmd = append(cmd, 0x00)
	}
	cmd = append(cmd, key.Version())

	_, err := t.command(cmd, 2,
		CommEnciphered|EncCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("set default key: %w", err)
	}

	return nil
}

// SetATS replaces the card's answer-to-select string. ats starts with its
// own length byte. The checksum is computed here over the new string, so
// the pipeline is told not to add another one.
func (t *Tag) SetATS(ats []byte) error {
	if len(ats) == 0 || int(ats[0]) != len(ats) {
		return fmt.Errorf("%w: ats must start with its length", ErrLengthExceeded)
	}

	cmd := make([]byte, 0, 2+len(ats)+4+1)
	cmd = append(cmd, cmdSetConfiguration, 0x02)
	cmd = append(cmd, ats...)

	switch t.scheme {
	case SchemeLegacy:
		n := len(cmd)
		cmd = append(cmd, 0, 0)
		AppendCRC16(cmd[2:], n-2)
	case SchemeNew:
		n := len(cmd)
		cmd = append(cmd, 0, 0, 0, 0)
		AppendCRC32(cmd, n)
	}
	cmd = append(cmd, 0x80)

	_, err := t.command(cmd, 2,
		CommEnciphered|EncCommand|NoCRC, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("set ats: %w", err)
	}

	return nil
}
