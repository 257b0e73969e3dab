package boot

// FramebufferInfo describes the framebuffer initialized by the bootloader,
// if any.
type FramebufferInfo struct {
	PhysAddr uint64
	Width    uint32
	Height   uint32
	Pitch    uint32
	Bpp      uint8
}

// Framebuffer returns information about the bootloader-initialized
// framebuffer, or nil if FlagFramebuffer is clear.
func Framebuffer() *FramebufferInfo {
	if flags()&FlagFramebuffer == 0 {
		return nil
	}

	return &FramebufferInfo{
		PhysAddr: fieldU64(offFramebufferPhys),
		Width:    fieldU32(offWidth),
		Height:   fieldU32(offHeight),
		Pitch:    fieldU32(offPitch),
		Bpp:      uint8(fieldU32(offBpp)),
	}
}
