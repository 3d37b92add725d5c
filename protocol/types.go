package protocol

// ObjectChecksum is the device's view of how much of the selected object it
// has received. Returned by CRC-Get.
type ObjectChecksum struct {
	// Offset is the number of bytes the device has received
	Offset uint32

	// CRC32 is computed by the device over those bytes
	CRC32 uint32
}

// ObjectInfo describes the currently selected object.
// Returned by the Select command.
type ObjectInfo struct {
	// MaxSize is the largest object of this kind the device accepts
	MaxSize uint32

	// Offset is the number of bytes the device has durably received
	Offset uint32

	// CRC32 is computed by the device over those bytes
	CRC32 uint32
}

// Checksum returns the offset and CRC part of the info.
func (i ObjectInfo) Checksum() ObjectChecksum {
	return ObjectChecksum{Offset: i.Offset, CRC32: i.CRC32}
}
