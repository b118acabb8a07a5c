package vmm

import "testing"

func TestApplyMMUConfigWritesAllThreeRegisters(t *testing.T) {
	cfg := DefaultMMUConfig()
	ApplyMMUConfig(cfg)

	if cfg.MAIR == 0 || cfg.TCR == 0 || cfg.SCTLR == 0 {
		t.Fatalf("expected a nonzero default config, got %+v", cfg)
	}
}

func TestEnableDisableMMU(t *testing.T) {
	DisableMMU()
	if MMUEnabled() {
		t.Fatal("expected MMU disabled")
	}
	EnableMMU()
	if !MMUEnabled() {
		t.Fatal("expected MMU enabled")
	}
	DisableMMU()
	if MMUEnabled() {
		t.Fatal("expected MMU disabled again")
	}
}

func TestDefaultMAIRAssignsDistinctIndices(t *testing.T) {
	mair := buildMAIR()
	normal := byte(mair >> (8 * mairIndexNormal))
	device := byte(mair >> (8 * mairIndexDevice))
	nc := byte(mair >> (8 * mairIndexNonCacheable))

	if normal != mairAttrNormalWriteback || device != mairAttrDeviceNGnRnE || nc != mairAttrNormalNonCacheable {
		t.Fatalf("unexpected MAIR byte layout: %#x", mair)
	}
}
