// internal/protocol/modbus/crc.go
package modbus

// Checksum returns the CRC16/Modbus (poly 0xA001 reflected, init 0xFFFF)
// of payload. The wire CRC of RTU ADUs is handled by the transport; this
// one guards the PDU between transport and codec.
func Checksum(payload []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range payload {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
