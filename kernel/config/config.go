// Package config loads the board descriptor that parameterizes the
// kernel's memory layout, scheduler quanta and deferred-work budget,
// so the same binary can target Raspberry Pi 4 and Raspberry Pi 5
// boards that differ in RAM size without a recompile.
//
// Grounded on tinyrange-cc's site_config.go (a default-on-missing-file
// YAML loader with defensive size/permission checks before parsing),
// generalized from an optional desktop-app override file to a
// required boot-time board descriptor.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"pikernel/kernel"
)

const maxConfigSize = 64 * 1024

// Board holds every tunable the kernel's three subsystems read at
// boot.
type Board struct {
	Memory    MemoryConfig    `yaml:"memory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SoftIRQ   SoftIRQConfig   `yaml:"soft_irq"`
	Protect   ProtectConfig   `yaml:"protect"`
}

// MemoryConfig parameterizes the physical allocator and MMU setup.
type MemoryConfig struct {
	PhysicalBase uint64 `yaml:"physical_base"`
	PhysicalSize uint64 `yaml:"physical_size"`
	BlockSize    uint64 `yaml:"block_size"`
	ASIDBits     uint8  `yaml:"asid_bits"`

	// DeviceBase/DeviceSize describe the MMIO window identity-mapped
	// alongside RAM at boot (the BCM2711/2712 peripheral window on a
	// Raspberry Pi 4/5).
	DeviceBase uint64 `yaml:"device_base"`
	DeviceSize uint64 `yaml:"device_size"`
}

// SchedulerConfig parameterizes scheduling quanta. Zero values fall
// back to the compiled-in defaults in sched.TimeSliceMillis.
// TimerFrequencyHz is loaded but no kernel package reads it.
type SchedulerConfig struct {
	TimeSliceCriticalMillis uint32 `yaml:"time_slice_critical_ms"`
	TimeSliceHighMillis     uint32 `yaml:"time_slice_high_ms"`
	TimeSliceNormalMillis   uint32 `yaml:"time_slice_normal_ms"`
	TimeSliceLowMillis      uint32 `yaml:"time_slice_low_ms"`
	TimerFrequencyHz        uint32 `yaml:"timer_frequency_hz"`
}

// SoftIRQConfig parameterizes the deferred-work queue.
type SoftIRQConfig struct {
	FuelBudget int `yaml:"fuel_budget"`
}

// ProtectConfig parameterizes ASLR. GuardPageCount is loaded but no
// kernel package reads it; guard gaps are always one page.
type ProtectConfig struct {
	EntropyWindowPages uintptr `yaml:"entropy_window_pages"`
	GuardPageCount     int     `yaml:"guard_page_count"`
}

// DefaultBoard returns the Raspberry Pi 4 defaults the kernel boots
// with when no board descriptor is present.
func DefaultBoard() Board {
	return Board{
		Memory: MemoryConfig{
			PhysicalBase: 0x0,
			PhysicalSize: 512 << 20, // 512MiB visible to the kernel, clear of the peripheral window below
			BlockSize:    4096,
			ASIDBits:     16,
			DeviceBase:   0xFE000000, // BCM2711 peripheral base
			DeviceSize:   0x01800000,
		},
		Scheduler: SchedulerConfig{
			TimeSliceCriticalMillis: 10,
			TimeSliceHighMillis:     20,
			TimeSliceNormalMillis:   40,
			TimeSliceLowMillis:      80,
			TimerFrequencyHz:        100,
		},
		SoftIRQ: SoftIRQConfig{FuelBudget: 32},
		Protect: ProtectConfig{EntropyWindowPages: 256, GuardPageCount: 1},
	}
}

// ErrConfigTooLarge guards against a corrupt or hostile board
// descriptor stalling boot on a slow SD-card read.
var ErrConfigTooLarge = &kernel.Error{Module: "config", Message: "board descriptor exceeds maximum size"}

// Load reads and parses the board descriptor at path, returning
// DefaultBoard() unchanged if the file does not exist. Fields present
// in the descriptor override the defaults; fields omitted keep theirs,
// since Unmarshal is applied on top of an already-populated struct.
func Load(path string) (Board, *kernel.Error) {
	board := DefaultBoard()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return board, nil
		}
		return board, &kernel.Error{Module: "config", Message: err.Error()}
	}
	if info.Size() > maxConfigSize {
		return board, ErrConfigTooLarge
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return board, &kernel.Error{Module: "config", Message: err.Error()}
	}
	if err := yaml.Unmarshal(data, &board); err != nil {
		return board, &kernel.Error{Module: "config", Message: err.Error()}
	}
	return board, nil
}
