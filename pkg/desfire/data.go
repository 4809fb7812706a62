package desfire

import "fmt"

// Data manipulation command codes.
const (
	cmdReadData          byte = 0xBD
	cmdWriteData         byte = 0x3D
	cmdGetValue          byte = 0x6C
	cmdCredit            byte = 0x0C
	cmdDebit             byte = 0xDC
	cmdLimitedCredit     byte = 0x1C
	cmdWriteRecord       byte = 0x3B
	cmdReadRecords       byte = 0xBB
	cmdClearRecordFile   byte = 0xEB
	cmdCommitTransaction byte = 0xC7
	cmdAbortTransaction  byte = 0xA7
)

// readFileHeader builds the 8 byte read/write command header.
func readFileHeader(code, fileNo byte, offset, length uint32) []byte {
	cmd := make([]byte, 0, 8)
	cmd = append(cmd, code, fileNo)
	cmd = appendLE24(cmd, offset)
	cmd = appendLE24(cmd, length)

	return cmd
}

func (t *Tag) readFile(code, fileNo byte, offset, length uint32, mode CommSettings) ([]byte, error) {
	cmd := readFileHeader(code, fileNo, offset, length)

	res, err := t.command(cmd, 8,
		CommPlain|CMACCommand,
		mode|CMACCommand|CMACVerify|MACVerify)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(res))
	copy(out, res)

	return out, nil
}

// ReadData reads from a standard or backup data file, resolving the
// communication mode from the file's settings. length 0 reads to the end
// of the file.
func (t *Tag) ReadData(fileNo byte, offset, length uint32) ([]byte, error) {
	mode, err := t.readCommMode(fileNo)
	if err != nil {
		return nil, err
	}

	return t.ReadDataEx(fileNo, offset, length, mode)
}

// ReadDataEx reads from a data file with an explicit communication mode.
func (t *Tag) ReadDataEx(fileNo byte, offset, length uint32, mode CommSettings) ([]byte, error) {
	data, err := t.readFile(cmdReadData, fileNo, offset, length, mode)
	if err != nil {
		return nil, fmt.Errorf("read data file %d: %w", fileNo, err)
	}

	return data, nil
}

func (t *Tag) writeFile(code, fileNo byte, offset uint32, data []byte, mode CommSettings) error {
	if len(data) == 0 || len(data) > maxWriteLength {
		return fmt.Errorf("%w: write length %d not in [1,%d]", ErrLengthExceeded, len(data), maxWriteLength)
	}

	cmd := make([]byte, 0, 8+len(data))
	cmd = append(cmd, code, fileNo)
	cmd = appendLE24(cmd, offset)
	cmd = appendLE24(cmd, uint32(len(data)))
	cmd = append(cmd, data...)

	_, err := t.command(cmd, 8,
		mode|MACCommand|CMACCommand|EncCommand,
		CommPlain|CMACCommand|CMACVerify)

	return err
}

// WriteData writes to a standard or backup data file, resolving the
// communication mode from the file's settings. Writes to backup files take
// effect after CommitTransaction.
func (t *Tag) WriteData(fileNo byte, offset uint32, data []byte) error {
	mode, err := t.writeCommMode(fileNo)
	if err != nil {
		return err
	}

	return t.WriteDataEx(fileNo, offset, data, mode)
}

// WriteDataEx writes to a data file with an explicit communication mode.
func (t *Tag) WriteDataEx(fileNo byte, offset uint32, data []byte, mode CommSettings) error {
	if err := t.writeFile(cmdWriteData, fileNo, offset, data, mode); err != nil {
		return fmt.Errorf("write data file %d: %w", fileNo, err)
	}

	return nil
}

// Value reads the current value of a value file, resolving the
// communication mode from the file's settings.
func (t *Tag) Value(fileNo byte) (int32, error) {
	mode, err := t.readCommMode(fileNo)
	if err != nil {
		return 0, err
	}

	return t.ValueEx(fileNo, mode)
}

// ValueEx reads the current value of a value file with an explicit
// communication mode.
func (t *Tag) ValueEx(fileNo byte, mode CommSettings) (int32, error) {
	cmd := []byte{cmdGetValue, fileNo}
	res, err := t.command(cmd, 0,
		CommPlain|CMACCommand, mode|CMACCommand|CMACVerify)
	if err != nil {
		return 0, fmt.Errorf("get value file %d: %w", fileNo, err)
	}
	if len(res) < 4 {
		return 0, fmt.Errorf("get value file %d: short response (%d bytes)", fileNo, len(res))
	}

	return int32(le32(res)), nil
}

func (t *Tag) valueOp(code, fileNo byte, amount int32, mode CommSettings) error {
	cmd := make([]byte, 0, 6)
	cmd = append(cmd, code, fileNo)
	cmd = appendLE32(cmd, uint32(amount))

	_, err := t.command(cmd, 2,
		mode|MACCommand|CMACCommand|EncCommand,
		CommPlain|CMACCommand|CMACVerify)

	return err
}

// Credit increases a value file, resolving the communication mode from the
// file's settings. The change takes effect after CommitTransaction.
func (t *Tag) Credit(fileNo byte, amount int32) error {
	mode, err := t.writeCommMode(fileNo)
	if err != nil {
		return err
	}

	return t.CreditEx(fileNo, amount, mode)
}

// CreditEx increases a value file with an explicit communication mode.
func (t *Tag) CreditEx(fileNo byte, amount int32, mode CommSettings) error {
	if err := t.valueOp(cmdCredit, fileNo, amount, mode); err != nil {
		return fmt.Errorf("credit file %d: %w", fileNo, err)
	}

	return nil
}

// Debit decreases a value file, resolving the communication mode from the
// file's settings. The change takes effect after CommitTransaction.
func (t *Tag) Debit(fileNo byte, amount int32) error {
	mode, err := t.writeCommMode(fileNo)
	if err != nil {
		return err
	}

	return t.DebitEx(fileNo, amount, mode)
}

// DebitEx decreases a value file with an explicit communication mode.
func (t *Tag) DebitEx(fileNo byte, amount int32, mode CommSettings) error {
	if err := t.valueOp(cmdDebit, fileNo, amount, mode); err != nil {
		return fmt.Errorf("debit file %d: %w", fileNo, err)
	}

	return nil
}

// LimitedCredit increases a value file within the limited credit budget
// accumulated by earlier debits, resolving the communication mode from the
// file's settings.
func (t *Tag) LimitedCredit(fileNo byte, amount int32) error {
	mode, err := t.writeCommMode(fileNo)
	if err != nil {
		return err
	}

	return t.LimitedCreditEx(fileNo, amount, mode)
}

// LimitedCreditEx is LimitedCredit with an explicit communication mode.
func (t *Tag) LimitedCreditEx(fileNo byte, amount int32, mode CommSettings) error {
	if err := t.valueOp(cmdLimitedCredit, fileNo, amount, mode); err != nil {
		return fmt.Errorf("limited credit file %d: %w", fileNo, err)
	}

	return nil
}

// ReadRecords reads records from a record file, resolving the
// communication mode from the file's settings. offset is the index of the
// newest record to return and length the record count; 0 reads all.
func (t *Tag) ReadRecords(fileNo byte, offset, length uint32) ([]byte, error) {
	mode, err := t.readCommMode(fileNo)
	if err != nil {
		return nil, err
	}

	return t.ReadRecordsEx(fileNo, offset, length, mode)
}

// ReadRecordsEx reads records with an explicit communication mode.
func (t *Tag) ReadRecordsEx(fileNo byte, offset, length uint32, mode CommSettings) ([]byte, error) {
	data, err := t.readFile(cmdReadRecords, fileNo, offset, length, mode)
	if err != nil {
		return nil, fmt.Errorf("read records file %d: %w", fileNo, err)
	}

	return data, nil
}

// WriteRecord writes into the current record of a record file, resolving
// the communication mode from the file's settings. The record is appended
// on CommitTransaction.
func (t *Tag) WriteRecord(fileNo byte, offset uint32, data []byte) error {
	mode, err := t.writeCommMode(fileNo)
	if err != nil {
		return err
	}

	return t.WriteRecordEx(fileNo, offset, data, mode)
}

// WriteRecordEx writes a record with an explicit communication mode.
func (t *Tag) WriteRecordEx(fileNo byte, offset uint32, data []byte, mode CommSettings) error {
	if err := t.writeFile(cmdWriteRecord, fileNo, offset, data, mode); err != nil {
		return fmt.Errorf("write record file %d: %w", fileNo, err)
	}

	return nil
}

// ClearRecordFile removes all records from a record file. Takes effect
// after CommitTransaction.
func (t *Tag) ClearRecordFile(fileNo byte) error {
	cmd := []byte{cmdClearRecordFile, fileNo}
	_, err := t.command(cmd, 0, CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("clear record file %d: %w", fileNo, err)
	}

	return nil
}

// CommitTransaction validates all pending changes to backup, value and
// record files in the selected application.
func (t *Tag) CommitTransaction() error {
	_, err := t.command([]byte{cmdCommitTransaction}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// AbortTransaction discards all pending changes in the selected
// application.
func (t *Tag) AbortTransaction() error {
	_, err := t.command([]byte{cmdAbortTransaction}, 0,
		CommPlain|CMACCommand, CommPlain|CMACCommand|CMACVerify)
	if err != nil {
		return fmt.Errorf("abort transaction: %w", err)
	}

	return nil
}
