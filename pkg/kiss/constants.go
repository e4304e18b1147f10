package kiss

// KISS special bytes
const (
	FEND  byte = 0xC0 // Frame start/end marker
	FESC  byte = 0xDB // Escape character
	TFEND byte = 0xDC // After FESC: a 0xC0 was in the source packet
	TFESC byte = 0xDD // After FESC: a 0xDB was in the source packet
)

// KISS command bytes (high nibble port, low nibble command)
const (
	CmdData byte = 0x00 // Port 0, send data. The only command emitted.
)

// Segmentation limits shared with the segment package
const (
	MaxSegmentSize = 200                // Payload bytes per segment
	MaxFrameLength = MaxSegmentSize + 1 // Tag byte + payload; anything longer is discarded
)

// headerSize is FEND + command
const headerSize = 2
