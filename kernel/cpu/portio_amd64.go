package cpu

// PortReadByte reads a byte from the given I/O port.
func PortReadByte(port uint16) uint8

// PortWriteByte writes a byte to the given I/O port.
func PortWriteByte(port uint16, val uint8)

// PortReadUint32 reads a 32-bit value from the given I/O port.
func PortReadUint32(port uint16) uint32

// PortWriteUint32 writes a 32-bit value to the given I/O port.
func PortWriteUint32(port uint16, val uint32)
