package desfire

import "fmt"

// File management command codes.
const (
	cmdGetFileIDs         byte = 0x6F
	cmdGetISOFileIDs      byte = 0x61
	cmdGetFileSettings    byte = 0xF5
	cmdChangeFileSettings byte = 0x5F
	cmdCreateStdDataFile  byte = 0xCD
	cmdCreateBackupFile   byte = 0xCB
	cmdCreateValueFile    byte = 0xCC
	cmdCreateLinearFile   byte = 0xC1
	cmdCreateCyclicFile   byte = 0xC0
	cmdDeleteFile         byte = 0xDF
)

// FileIDs lists the file numbers present in the selected application.
func (t *Tag) FileIDs() ([]byte, error) {
	res, err := t.command([]byte{cmdGetFileIDs}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return nil, fmt.Errorf("get file ids: %w", err)
	}

	ids := make([]byte, len(res))
	copy(ids, res)

	return ids, nil
}

// ISOFileIDs lists the ISO 7816-4 file identifiers of the selected
// application.
func (t *Tag) ISOFileIDs() ([]uint16, error) {
	res, err := t.command([]byte{cmdGetISOFileIDs}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand)
	if err != nil {
		return nil, fmt.Errorf("get iso file ids: %w", err)
	}

	ids := make([]uint16, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		ids = append(ids, le16(res[i:]))
	}

	return ids, nil
}

// FileSettings reads the type, communication mode, access rights and
// type-specific parameters of a file.
func (t *Tag) FileSettings(fileNo byte) (*FileSettings, error) {
	cmd := []byte{cmdGetFileSettings, fileNo}
	res, err := t.command(cmd, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return nil, fmt.Errorf("get file settings: %w", err)
	}
	if len(res) < 4 {
		return nil, fmt.Errorf("get file settings: short response (%d bytes)", len(res))
	}

	settings := &FileSettings{
		Type:         FileType(res[0]),
		CommSettings: CommSettings(res[1]) & commModeMask,
		AccessRights: AccessRights(le16(res[2:])),
	}

	body := res[4:]
	switch settings.Type {
	case FileStandardData, FileBackupData:
		if len(body) < 3 {
			return nil, fmt.Errorf("get file settings: truncated data file settings")
		}
		settings.FileSize = le24(body)

	case FileValue:
		if len(body) < 13 {
			return nil, fmt.Errorf("get file settings: truncated value file settings")
		}
		settings.LowerLimit = int32(le32(body))
		settings.UpperLimit = int32(le32(body[4:]))
		settings.LimitedCreditValue = int32(le32(body[8:]))
		settings.LimitedCreditEnabled = body[12] != 0

	case FileLinearRecord, FileCyclicRecord:
		if len(body) < 9 {
			return nil, fmt.Errorf("get file settings: truncated record file settings")
		}
		settings.RecordSize = le24(body)
		settings.MaxRecords = le24(body[3:])
		settings.CurrentRecords = le24(body[6:])

	default:
		return nil, fmt.Errorf("get file settings: unknown file type %#02x", res[0])
	}

	return settings, nil
}

// ChangeFileSettings updates a file's communication mode and access rights.
// The update travels enciphered unless changing rights is free on this
// file.
func (t *Tag) ChangeFileSettings(fileNo byte, comm CommSettings, rights AccessRights) error {
	current, err := t.FileSettings(fileNo)
	if err != nil {
		return err
	}

	cmd := make([]byte, 0, 5)
	cmd = append(cmd, cmdChangeFileSettings, fileNo, byte(comm.Mode()))
	cmd = appendLE16(cmd, uint16(rights))

	tx := CommEnciphered | EncCommand
	offset := 2
	if current.AccessRights.ChangeRights() == AccessFree {
		tx = CommPlain | CMACCommand
		offset = 0
	}

	_, err = t.command(cmd, offset, tx, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("change file settings: %w", err)
	}

	return nil
}

func (t *Tag) createDataFile(code, fileNo byte, hasISO bool, isoFileID uint16,
	comm CommSettings, rights AccessRights, fileSize uint32,
) error {
	cmd := make([]byte, 0, 10)
	cmd = append(cmd, code, fileNo)
	if hasISO {
		cmd = appendLE16(cmd, isoFileID)
	}
	cmd = append(cmd, byte(comm.Mode()))
	cmd = appendLE16(cmd, uint16(rights))
	cmd = appendLE24(cmd, fileSize)

	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("create data file %d: %w", fileNo, err)
	}

	return nil
}

// CreateStdDataFile creates a standard data file of fileSize bytes.
func (t *Tag) CreateStdDataFile(fileNo byte, comm CommSettings, rights AccessRights, fileSize uint32) error {
	return t.createDataFile(cmdCreateStdDataFile, fileNo, false, 0, comm, rights, fileSize)
}

// CreateStdDataFileISO creates a standard data file that is also
// addressable by an ISO file identifier.
func (t *Tag) CreateStdDataFileISO(fileNo byte, comm CommSettings, rights AccessRights, fileSize uint32, isoFileID uint16) error {
	return t.createDataFile(cmdCreateStdDataFile, fileNo, true, isoFileID, comm, rights, fileSize)
}

// CreateBackupDataFile creates a backup data file of fileSize bytes.
// Writes to it only take effect after CommitTransaction.
func (t *Tag) CreateBackupDataFile(fileNo byte, comm CommSettings, rights AccessRights, fileSize uint32) error {
	return t.createDataFile(cmdCreateBackupFile, fileNo, false, 0, comm, rights, fileSize)
}

// CreateBackupDataFileISO creates a backup data file that is also
// addressable by an ISO file identifier.
func (t *Tag) CreateBackupDataFileISO(fileNo byte, comm CommSettings, rights AccessRights, fileSize uint32, isoFileID uint16) error {
	return t.createDataFile(cmdCreateBackupFile, fileNo, true, isoFileID, comm, rights, fileSize)
}

// CreateValueFile creates a value file bounded by lowerLimit and
// upperLimit, starting at value.
func (t *Tag) CreateValueFile(fileNo byte, comm CommSettings, rights AccessRights,
	lowerLimit, upperLimit, value int32, limitedCredit bool,
) error {
	cmd := make([]byte, 0, 18)
	cmd = append(cmd, cmdCreateValueFile, fileNo, byte(comm.Mode()))
	cmd = appendLE16(cmd, uint16(rights))
	cmd = appendLE32(cmd, uint32(lowerLimit))
	cmd = appendLE32(cmd, uint32(upperLimit))
	cmd = appendLE32(cmd, uint32(value))
	if limitedCredit {
		cmd = append(cmd, 0x01)
	} else {
		cmd = append(cmd, 0x00)
	}

	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("create value file %d: %w", fileNo, err)
	}

	return nil
}

func (t *Tag) createRecordFile(code, fileNo byte, hasISO bool, isoFileID uint16,
	comm CommSettings, rights AccessRights, recordSize, maxRecords uint32,
) error {
	cmd := make([]byte, 0, 13)
	cmd = append(cmd, code, fileNo)
	if hasISO {
		cmd = appendLE16(cmd, isoFileID)
	}
	cmd = append(cmd, byte(comm.Mode()))
	cmd = appendLE16(cmd, uint16(rights))
	cmd = appendLE24(cmd, recordSize)
	cmd = appendLE24(cmd, maxRecords)

	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("create record file %d: %w", fileNo, err)
	}

	return nil
}

// CreateLinearRecordFile creates a record file that stops accepting writes
// once maxRecords records are stored.
func (t *Tag) CreateLinearRecordFile(fileNo byte, comm CommSettings, rights AccessRights, recordSize, maxRecords uint32) error {
	return t.createRecordFile(cmdCreateLinearFile, fileNo, false, 0, comm, rights, recordSize, maxRecords)
}

// CreateLinearRecordFileISO creates a linear record file that is also
// addressable by an ISO file identifier.
func (t *Tag) CreateLinearRecordFileISO(fileNo byte, comm CommSettings, rights AccessRights, recordSize, maxRecords uint32, isoFileID uint16) error {
	return t.createRecordFile(cmdCreateLinearFile, fileNo, true, isoFileID, comm, rights, recordSize, maxRecords)
}

// CreateCyclicRecordFile creates a record file that overwrites the oldest
// record once maxRecords records are stored.
func (t *Tag) CreateCyclicRecordFile(fileNo byte, comm CommSettings, rights AccessRights, recordSize, maxRecords uint32) error {
	return t.createRecordFile(cmdCreateCyclicFile, fileNo, false, 0, comm, rights, recordSize, maxRecords)
}

// CreateCyclicRecordFileISO creates a cyclic record file that is also
// addressable by an ISO file identifier.
func (t *Tag) CreateCyclicRecordFileISO(fileNo byte, comm CommSettings, rights AccessRights, recordSize, maxRecords uint32, isoFileID uint16) error {
	return t.createRecordFile(cmdCreateCyclicFile, fileNo, true, isoFileID, comm, rights, recordSize, maxRecords)
}

// DeleteFile deactivates a file. Its memory is only reclaimed when the
// application is deleted or the card formatted.
func (t *Tag) DeleteFile(fileNo byte) error {
	cmd := []byte{cmdDeleteFile, fileNo}
	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("delete file %d: %w", fileNo, err)
	}

	return nil
}

// readCommMode resolves the communication mode for reading a file. Access
// rights trump the stored mode: when the session key matches neither read
// nibble but one of them is free, the card answers in plain.
func (t *Tag) readCommMode(fileNo byte) (CommSettings, error) {
	settings, err := t.FileSettings(fileNo)
	if err != nil {
		return 0, err
	}

	read := settings.AccessRights.Read()
	readWrite := settings.AccessRights.ReadWrite()
	if read != t.authKeyNo && readWrite != t.authKeyNo &&
		(read == AccessFree || readWrite == AccessFree) {
		return CommPlain, nil
	}

	return settings.CommSettings, nil
}

// writeCommMode resolves the communication mode for writing a file, by the
// same rule as readCommMode.
func (t *Tag) writeCommMode(fileNo byte) (CommSettings, error) {
	settings, err := t.FileSettings(fileNo)
	if err != nil {
		return 0, err
	}

	write := settings.AccessRights.Write()
	readWrite := settings.AccessRights.ReadWrite()
	if write != t.authKeyNo && readWrite != t.authKeyNo &&
		(write == AccessFree || readWrite == AccessFree) {
		return CommPlain, nil
	}

	return settings.CommSettings, nil
}
