package desfire

// File access is governed by four nibbles, each naming the key that unlocks
// one kind of access, or one of the two wildcard values.
const (
	// AccessFree grants access without authentication.
	AccessFree byte = 0x0E
	// AccessDeny refuses access regardless of authentication.
	AccessDeny byte = 0x0F
)

// AccessRights packs the four access nibbles of a file, read first.
type AccessRights uint16

// MakeAccessRights assembles the access rights word from the four key
// nibbles.
func MakeAccessRights(read, write, readWrite, changeRights byte) AccessRights {
	return AccessRights(read&0x0F)<<12 |
		AccessRights(write&0x0F)<<8 |
		AccessRights(readWrite&0x0F)<<4 |
		AccessRights(changeRights&0x0F)
}

// Read returns the key number controlling read access.
func (ar AccessRights) Read() byte { return byte(ar>>12) & 0x0F }

// Write returns the key number controlling write access.
func (ar AccessRights) Write() byte { return byte(ar>>8) & 0x0F }

// ReadWrite returns the key number controlling combined read/write access.
func (ar AccessRights) ReadWrite() byte { return byte(ar>>4) & 0x0F }

// ChangeRights returns the key number allowed to change these rights.
func (ar AccessRights) ChangeRights() byte { return byte(ar) & 0x0F }

// FileType is the card-side type of a file.
type FileType byte

const (
	FileStandardData FileType = 0x00
	FileBackupData   FileType = 0x01
	FileValue        FileType = 0x02
	FileLinearRecord FileType = 0x03
	FileCyclicRecord FileType = 0x04
)

// FileSettings describes one file as reported by the card. Exactly one of
// the type-specific sub-structs is meaningful, selected by Type.
type FileSettings struct {
	Type         FileType
	CommSettings CommSettings
	AccessRights AccessRights

	// Data files.
	FileSize uint32

	// Value files.
	LowerLimit           int32
	UpperLimit           int32
	LimitedCreditValue   int32
	LimitedCreditEnabled bool

	// Record files.
	RecordSize     uint32
	MaxRecords     uint32
	CurrentRecords uint32
}

// Application master key settings flags (ChangeKeySettings argument).
const (
	// KeySettingsAllowChangeMasterKey permits changing the master key.
	KeySettingsAllowChangeMasterKey byte = 0x01
	// KeySettingsFreeDirectoryList permits listing without the master key.
	KeySettingsFreeDirectoryList byte = 0x02
	// KeySettingsFreeCreateDelete permits create/delete without the
	// master key.
	KeySettingsFreeCreateDelete byte = 0x04
	// KeySettingsConfigurationChangeable permits changing these settings.
	KeySettingsConfigurationChangeable byte = 0x08
)

// CreateApplication key-count flags, selecting the application's crypto
// method. Usable only while the PICC-level application is selected.
const (
	// AppCrypto3K3DES marks the application's keys as 3K3DES.
	AppCrypto3K3DES byte = 0x40
	// AppCryptoAES marks the application's keys as AES.
	AppCryptoAES byte = 0x80
)
