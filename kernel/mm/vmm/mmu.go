package vmm

import "pikernel/kernel/cpu"

// MAIR_EL1/TCR_EL1/SCTLR_EL1 attribute and field encodings. Grounded on
// usbarmory-tamago/arm64/mmu.go's MemoryRegion/DeviceRegion attribute
// constant idiom and its InitMMU flat-mapping approach, generalized
// from ARMv7's short-descriptor TTE bits to AArch64's MAIR/TCR/SCTLR
// register model this kernel's two-root-tree walker actually targets.
const (
	mairAttrNormalWriteback    = 0xFF // Normal, Inner/Outer Write-Back R/W-Allocate
	mairAttrDeviceNGnRnE       = 0x00 // Device-nGnRnE
	mairAttrNormalNonCacheable = 0x44 // Normal, Inner/Outer Non-Cacheable

	// MAIR index assignments, matching FlagDevice's own MAIR-index-1
	// assumption in pte.go.
	mairIndexNormal       = 0
	mairIndexDevice       = 1
	mairIndexNonCacheable = 2
)

func buildMAIR() uint64 {
	return uint64(mairAttrNormalWriteback)<<(8*mairIndexNormal) |
		uint64(mairAttrDeviceNGnRnE)<<(8*mairIndexDevice) |
		uint64(mairAttrNormalNonCacheable)<<(8*mairIndexNonCacheable)
}

const (
	tcrT0SZ     = uint64(16) << 0  // user half (TTBR0): 48-bit VA
	tcrT1SZ     = uint64(16) << 16 // kernel half (TTBR1): 48-bit VA
	tcrTG0_4KB  = uint64(0b00) << 14
	tcrTG1_4KB  = uint64(0b10) << 30 // TG1's granule encoding differs from TG0's
	tcrIPS_48bit = uint64(0b101) << 32
)

func buildTCR() uint64 {
	return tcrT0SZ | tcrT1SZ | tcrTG0_4KB | tcrTG1_4KB | tcrIPS_48bit
}

const (
	sctlrDCacheEnable = uint64(1) << 2
	sctlrICacheEnable = uint64(1) << 12
	sctlrWXN          = uint64(1) << 19 // write implies never-execute
)

// buildSCTLR omits the M (MMU enable) bit; EnableMMU sets it
// separately once the kernel half's identity mapping is installed,
// matching the documented boot order (configure with MMU disabled,
// install tables, then enable).
func buildSCTLR() uint64 {
	return sctlrDCacheEnable | sctlrICacheEnable | sctlrWXN
}

// MMUConfig is the boot-time MAIR_EL1/TCR_EL1/SCTLR_EL1 configuration
// record: index 0/1/2 of MAIR_EL1 for Normal/Device/Non-cacheable
// memory, TCR_EL1 for a 4KB-granule 48-bit VA/PA split, and SCTLR_EL1
// with caches and WXN enabled.
type MMUConfig struct {
	MAIR  uint64
	TCR   uint64
	SCTLR uint64
}

// DefaultMMUConfig returns the fixed configuration this kernel always
// boots with.
func DefaultMMUConfig() MMUConfig {
	return MMUConfig{MAIR: buildMAIR(), TCR: buildTCR(), SCTLR: buildSCTLR()}
}

// ApplyMMUConfig writes cfg into MAIR_EL1/TCR_EL1/SCTLR_EL1 without
// enabling the MMU.
func ApplyMMUConfig(cfg MMUConfig) {
	cpu.WriteMAIR(cfg.MAIR)
	cpu.WriteTCR(cfg.TCR)
	cpu.WriteSCTLR(cfg.SCTLR)
}

// EnableMMU is the enable_mmu operation spec.md §4.5 names: it sets
// SCTLR_EL1's M bit, the final step before address translation governs
// every subsequent access.
func EnableMMU() { cpu.EnableMMU() }

// DisableMMU is the disable_mmu operation.
func DisableMMU() { cpu.DisableMMU() }

// MMUEnabled reports whether EnableMMU has run.
func MMUEnabled() bool { return cpu.MMUEnabled() }
