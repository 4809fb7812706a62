package desfire

import "fmt"

// Application-level command codes.
const (
	cmdCreateApplication byte = 0xCA
	cmdDeleteApplication byte = 0xDA
	cmdGetApplicationIDs byte = 0x6A
	cmdGetDFNames        byte = 0x6D
	cmdSelectApplication byte = 0x5A
	cmdChangeKeySettings byte = 0x54
	cmdGetKeySettings    byte = 0x45
	cmdChangeKey         byte = 0xC4
	cmdGetKeyVersion     byte = 0x64
)

const (
	aidSize             = 3
	maxApplicationCount = 28
)

// DFName is one entry of the ISO directory listing.
type DFName struct {
	AID  uint32
	FID  uint16
	Name []byte
}

// SelectApplication makes aid the target of subsequent commands and drops
// the current authentication.
func (t *Tag) SelectApplication(aid uint32) error {
	cmd := appendLE24([]byte{cmdSelectApplication}, aid)

	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand)
	if err != nil {
		return fmt.Errorf("select application %06x: %w", aid, err)
	}

	t.selectedApp = aid
	t.authKeyNo = NotAuthenticated
	t.sessionKey = nil

	return nil
}

// CreateApplication creates an application. settings are the application
// master key settings; numKeys is the key count (1..14), optionally OR-ed
// with AppCrypto3K3DES or AppCryptoAES to select the crypto method.
func (t *Tag) CreateApplication(aid uint32, settings, numKeys byte) error {
	return t.createApplication(aid, settings, numKeys, false, 0, nil)
}

// CreateApplicationISO creates an application that is also addressable as
// an ISO 7816-4 DF with the given file identifier and name.
func (t *Tag) CreateApplicationISO(aid uint32, settings, numKeys byte, isoFileID uint16, isoName []byte) error {
	return t.createApplication(aid, settings, numKeys, true, isoFileID, isoName)
}

func (t *Tag) createApplication(aid uint32, settings, numKeys byte, wantISO bool, isoFileID uint16, isoName []byte) error {
	cmd := make([]byte, 0, 6+2+len(isoName))
	cmd = append(cmd, cmdCreateApplication)
	cmd = appendLE24(cmd, aid)
	cmd = append(cmd, settings, numKeys)
	if wantISO {
		cmd = appendLE16(cmd, isoFileID)
		cmd = append(cmd, isoName...)
	}

	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("create application %06x: %w", aid, err)
	}

	return nil
}

// DeleteApplication removes an application and all its files.
func (t *Tag) DeleteApplication(aid uint32) error {
	cmd := appendLE24([]byte{cmdDeleteApplication}, aid)

	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("delete application %06x: %w", aid, err)
	}

	// Deleting the selected application drops the authentication.
	if t.selectedApp == aid {
		t.selectedApp = 0
		t.authKeyNo = NotAuthenticated
		t.sessionKey = nil
	}

	return nil
}

// ApplicationIDs lists the AIDs of all applications on the card.
func (t *Tag) ApplicationIDs() ([]uint32, error) {
	res, err := t.command([]byte{cmdGetApplicationIDs}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify|MACVerify)
	if err != nil {
		return nil, fmt.Errorf("get application ids: %w", err)
	}

	count := len(res) / aidSize
	aids := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		aids = append(aids, le24(res[i*aidSize:]))
	}

	return aids, nil
}

// DFNames lists the AID, ISO file identifier and DF name of every
// application that carries one. The card returns one application per
// frame, so frames are parsed individually rather than reassembled.
func (t *Tag) DFNames() ([]DFName, error) {
	if !t.active {
		return nil, ErrNotConnected
	}

	cmd, err := t.preprocess([]byte{cmdGetDFNames}, 0, CommPlain|CMACCommand)
	if err != nil {
		return nil, err
	}

	var names []DFName
	req := cmd
	for {
		data, status, err := t.transport.Transceive(req)
		if err != nil {
			return nil, fmt.Errorf("get df names: %w", err)
		}
		if status != statusOperationOK && status != statusAdditionalFrame {
			t.lastPICCError = status

			return nil, fmt.Errorf("get df names: %w", PICCStatus(status))
		}

		if len(data) >= 5 {
			name := make([]byte, len(data)-5)
			copy(name, data[5:])
			names = append(names, DFName{
				AID:  le24(data),
				FID:  le16(data[3:]),
				Name: name,
			})
		}

		if status != statusAdditionalFrame {
			break
		}
		req = []byte{additionalFrame}
	}

	return names, nil
}

// ChangeKeySettings updates the master key settings of the selected
// application (or of the card, at PICC level). Requires authentication
// with the corresponding master key.
func (t *Tag) ChangeKeySettings(settings byte) error {
	if !t.Authenticated() {
		return ErrNotAuthenticated
	}

	cmd := []byte{cmdChangeKeySettings, settings}
	_, err := t.command(cmd, 1,
		CommEnciphered|EncCommand,
		CommPlain|CMACCommand|CMACVerify|MACCommand|MACVerify)
	if err != nil {
		return fmt.Errorf("change key settings: %w", err)
	}

	return nil
}

// KeySettings reads the master key settings and the key count of the
// selected application.
func (t *Tag) KeySettings() (settings, maxKeys byte, err error) {
	res, err := t.command([]byte{cmdGetKeySettings}, 1,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return 0, 0, fmt.Errorf("get key settings: %w", err)
	}
	if len(res) < 2 {
		return 0, 0, fmt.Errorf("get key settings: short response (%d bytes)", len(res))
	}

	return res[0], res[1] & 0x0F, nil
}

// KeyVersion reads the version of a key in the selected application.
func (t *Tag) KeyVersion(keyNo byte) (byte, error) {
	cmd := []byte{cmdGetKeyVersion, keyNo}
	res, err := t.command(cmd, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify|MACVerify)
	if err != nil {
		return 0, fmt.Errorf("get key version: %w", err)
	}
	if len(res) < 1 {
		return 0, fmt.Errorf("get key version: short response")
	}

	return res[0], nil
}

// ChangeKey replaces a key. When the target key differs from the one the
// session authenticated with, the new key material is XOR-ed with the old
// key and a checksum over the bare new key is appended, proving knowledge
// of both. Changing the authentication key itself ends the session.
func (t *Tag) ChangeKey(keyNo byte, newKey, oldKey *Key) error {
	if !t.Authenticated() {
		return ErrNotAuthenticated
	}

	keyNo &= 0x0F
	// At PICC level the master key's crypto method is encoded in the key
	// number; applications fix theirs at creation.
	if t.selectedApp == 0 {
		switch newKey.keyType {
		case Type3K3DES:
			keyNo |= AppCrypto3K3DES
		case TypeAES:
			keyNo |= AppCryptoAES
		}
	}

	length := 16
	if newKey.keyType == Type3K3DES {
		length = 24
	}

	cmd := make([]byte, 0, 42)
	cmd = append(cmd, cmdChangeKey, keyNo)
	cmd = append(cmd, newKey.data[:length]...)

	sameKey := t.authKeyNo&0x0F == keyNo&0x0F
	if !sameKey && oldKey != nil {
		for i := 0; i < length; i++ {
			cmd[2+i] ^= oldKey.data[i]
		}
	}

	if newKey.keyType == TypeAES {
		cmd = append(cmd, newKey.aesVersion)
	}

	switch t.scheme {
	case SchemeLegacy:
		n := len(cmd)
		cmd = append(cmd, 0, 0)
		AppendCRC16(cmd[2:], n-2)
		if !sameKey {
			crc := CRC16(newKey.data[:length])
			cmd = append(cmd, crc[:]...)
		}
	case SchemeNew:
		n := len(cmd)
		cmd = append(cmd, 0, 0, 0, 0)
		AppendCRC32(cmd, n)
		if !sameKey {
			crc := CRC32(newKey.data[:length])
			cmd = append(cmd, crc[:]...)
		}
	}

	_, err := t.command(cmd, 2,
		CommEnciphered|EncCommand|NoCRC, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("change key %d: %w", keyNo&0x0F, err)
	}

	if sameKey {
		t.authKeyNo = NotAuthenticated
		t.sessionKey = nil
	}

	return nil
}
