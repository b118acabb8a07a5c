package vmm

import "pikernel/kernel/cpu"

// asidBits is the ASID tag width: 16 bits, matching the ARMv8-A
// 16-bit-ASID extension this kernel targets. Overridable at boot via
// SetASIDBits from config.MemoryConfig.ASIDBits.
var asidBits uint8 = 16

var nextASID uint32 // monotonically increasing; wraps modulo 1<<asidBits

// SetASIDBits configures the ASID tag width from the board descriptor.
// Must be called before any ASID is allocated.
func SetASIDBits(bits uint8) { asidBits = bits }

// allocASID returns the next ASID in round-robin order. Each full
// wrap around the ASID space triggers exactly one full TLB flush,
// since a reused ASID may still be tagging stale entries from a
// process that has since exited.
func allocASID() uint16 {
	modulus := uint32(1) << asidBits
	id := uint16(nextASID % modulus)
	nextASID++
	if nextASID%modulus == 0 {
		cpu.FlushTLBAll()
	}
	return id
}

// resetASIDAllocatorForTests rewinds the global ASID counter and
// restores the default width; exported only to this package's tests so
// each test starts from a known state.
func resetASIDAllocatorForTests() {
	nextASID = 0
	asidBits = 16
}
