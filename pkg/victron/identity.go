package victron

// Identity carries the ASCII strings the 0x35E/0x370/0x371 frames
// broadcast. Fields are copied verbatim, null-padded to the frame
// width by the encoder. Serial number, family, and firmware version
// are hardware-reported, not configured here; they come off the
// register cache via tinybms.LiveData instead (0x35F/0x380/0x381/
// 0x382).
type Identity struct {
	Manufacturer string // 0x35E, up to 8 bytes, e.g. "Enepaq"
	BatteryName  string // 0x370/0x371, up to 16 bytes total
}
