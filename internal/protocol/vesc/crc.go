// internal/protocol/vesc/crc.go
package vesc

// CRC16/XMODEM (poly 0x1021, init 0x0000), as used by the VESC UART protocol.

var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// Checksum returns the CRC16 of payload.
func Checksum(payload []byte) uint16 {
	var crc uint16
	for _, b := range payload {
		crc = crcTable[byte(crc>>8)^b] ^ crc<<8
	}
	return crc
}
