package protocol

import "hash/crc32"

// CRC32 is a running IEEE 802.3 CRC (the zip/ethernet CRC), the checksum the
// bootloader reports for every object.
//
// The zero value is ready to use and reports 0 for no input.
type CRC32 struct {
	value uint32
}

// NewCRC32 returns an empty accumulator.
func NewCRC32() *CRC32 {
	return &CRC32{}
}

// Update folds p into the running value.
func (c *CRC32) Update(p []byte) {
	c.value = crc32.Update(c.value, crc32.IEEETable, p)
}

// Write implements io.Writer so payloads can be hashed with io.Copy.
// It never fails.
func (c *CRC32) Write(p []byte) (int, error) {
	c.Update(p)
	return len(p), nil
}

// Value returns the CRC of all bytes passed to Update since the last Reset.
func (c *CRC32) Value() uint32 {
	return c.value
}

// Reset sets the running value back to 0.
func (c *CRC32) Reset() {
	c.value = 0
}

// Checksum computes the CRC of p in one call.
func Checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}
