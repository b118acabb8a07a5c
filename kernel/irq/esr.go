package irq

// ESRClass is the EC (Exception Class) field of ESR_EL1, bits [31:26].
type ESRClass uint8

const (
	ecUnknown          ESRClass = 0b000000
	ecWFIWFE           ESRClass = 0b000001
	ecSIMDTrap         ESRClass = 0b000111
	ecIllegalExecState ESRClass = 0b001110
	ecSVC64            ESRClass = 0b010101
	ecInstrAbortLower  ESRClass = 0b100000
	ecInstrAbortSame   ESRClass = 0b100001
	ecPCAlignment      ESRClass = 0b100010
	ecDataAbortLower   ESRClass = 0b100100
	ecDataAbortSame    ESRClass = 0b100101
	ecSPAlignment      ESRClass = 0b100110
	ecBreakpointLower  ESRClass = 0b110000
	ecBreakpointSame   ESRClass = 0b110001
	ecStepLower        ESRClass = 0b110010
	ecStepSame         ESRClass = 0b110011
	ecWatchpointLower  ESRClass = 0b110100
	ecWatchpointSame   ESRClass = 0b110101
	ecBRK64            ESRClass = 0b111100
)

// FaultStatusCategory abstracts the DFSC/IFSC encoding shared by data
// and instruction aborts into the categories the spec names.
type FaultStatusCategory uint8

const (
	FaultTranslation FaultStatusCategory = iota
	FaultPermission
	FaultAccessFlag
	FaultAlignment
	FaultTLBConflict
	FaultAddressSize
	FaultOther
)

// decodeFSC maps a raw 6-bit DFSC/IFSC field to its abstract category
// and faulting translation level, per the ARMv8-A encoding.
func decodeFSC(fsc uint8) (FaultStatusCategory, int) {
	level := int(fsc & 0x3)
	switch fsc &^ 0x3 {
	case 0b000000:
		return FaultAddressSize, level
	case 0b000100:
		return FaultTranslation, level
	case 0b001000:
		return FaultAccessFlag, level
	case 0b001100:
		return FaultPermission, level
	default:
		switch fsc {
		case 0b100001:
			return FaultAlignment, 0
		case 0b110000:
			return FaultTLBConflict, 0
		default:
			return FaultOther, 0
		}
	}
}

// ESRDetailKind tags the decoded variant.
type ESRDetailKind uint8

const (
	DetailUnknown ESRDetailKind = iota
	DetailWFIWFE
	DetailSIMDTrap
	DetailIllegalExecState
	DetailSystemCall
	DetailInstructionAbortLowerEL
	DetailInstructionAbortSameEL
	DetailPCAlignmentFault
	DetailDataAbortLowerEL
	DetailDataAbortSameEL
	DetailSPAlignmentFault
	DetailBreakpointLowerEL
	DetailBreakpointSameEL
	DetailStepLowerEL
	DetailStepSameEL
	DetailWatchpointLowerEL
	DetailWatchpointSameEL
	DetailBRK
)

// ESRDetail is the decoded form of ESR_EL1, the tagged variant
// described by the data model. Fields not relevant to Kind are zero.
type ESRDetail struct {
	Kind ESRDetailKind

	Imm16 uint16 // SystemCall / BRK

	FSC     FaultStatusCategory // DataAbort / InstructionAbort
	Level   int
	WnR     bool // write-not-read, DataAbort only
	S1PTW   bool
	FnV     bool // DataAbort only
	CM      bool // DataAbort only
	EA      bool
	SET     uint8 // DataAbort only
	AR      bool  // DataAbort only
	SF      bool  // DataAbort only, 64-bit register width
}

// Decode interprets a raw ESR_EL1 value into its tagged variant.
func Decode(esr uint64) ESRDetail {
	class := ESRClass((esr >> 26) & 0x3f)
	iss := uint32(esr & 0x1ffffff)

	switch class {
	case ecWFIWFE:
		return ESRDetail{Kind: DetailWFIWFE}
	case ecSIMDTrap:
		return ESRDetail{Kind: DetailSIMDTrap}
	case ecIllegalExecState:
		return ESRDetail{Kind: DetailIllegalExecState}
	case ecSVC64:
		return ESRDetail{Kind: DetailSystemCall, Imm16: uint16(iss & 0xffff)}
	case ecInstrAbortLower, ecInstrAbortSame:
		fsc, level := decodeFSC(uint8(iss & 0x3f))
		kind := DetailInstructionAbortSameEL
		if class == ecInstrAbortLower {
			kind = DetailInstructionAbortLowerEL
		}
		return ESRDetail{Kind: kind, FSC: fsc, Level: level,
			S1PTW: iss&(1<<7) != 0, EA: iss&(1<<9) != 0, FnV: iss&(1<<10) != 0}
	case ecPCAlignment:
		return ESRDetail{Kind: DetailPCAlignmentFault}
	case ecDataAbortLower, ecDataAbortSame:
		fsc, level := decodeFSC(uint8(iss & 0x3f))
		kind := DetailDataAbortSameEL
		if class == ecDataAbortLower {
			kind = DetailDataAbortLowerEL
		}
		return ESRDetail{
			Kind: kind, FSC: fsc, Level: level,
			WnR:   iss&(1<<6) != 0,
			S1PTW: iss&(1<<7) != 0,
			CM:    iss&(1<<8) != 0,
			EA:    iss&(1<<9) != 0,
			FnV:   iss&(1<<10) != 0,
			SET:   uint8((iss >> 11) & 0x3),
			AR:    iss&(1<<14) != 0,
			SF:    iss&(1<<15) != 0,
		}
	case ecSPAlignment:
		return ESRDetail{Kind: DetailSPAlignmentFault}
	case ecBreakpointLower:
		return ESRDetail{Kind: DetailBreakpointLowerEL}
	case ecBreakpointSame:
		return ESRDetail{Kind: DetailBreakpointSameEL}
	case ecStepLower:
		return ESRDetail{Kind: DetailStepLowerEL}
	case ecStepSame:
		return ESRDetail{Kind: DetailStepSameEL}
	case ecWatchpointLower:
		return ESRDetail{Kind: DetailWatchpointLowerEL}
	case ecWatchpointSame:
		return ESRDetail{Kind: DetailWatchpointSameEL}
	case ecBRK64:
		return ESRDetail{Kind: DetailBRK, Imm16: uint16(iss & 0xffff)}
	default:
		return ESRDetail{Kind: DetailUnknown}
	}
}

// EncodeSVC builds a synthetic ESR_EL1 value for an SVC instruction
// carrying imm16, used by tests and by the syscall entry path's
// self-check.
func EncodeSVC(imm16 uint16) uint64 {
	return uint64(ecSVC64)<<26 | uint64(imm16)
}

// EncodeDataAbort builds a synthetic ESR_EL1 value for a data abort.
// dfsc is the raw 6-bit DFSC field (its low two bits already carry the
// faulting translation level, matching the real ARMv8-A encoding:
// e.g. 0b000101 is a level-1 translation fault). Used by tests
// exercising the fault analyzer without real hardware.
func EncodeDataAbort(lowerEL bool, dfsc uint8, write bool) uint64 {
	class := ecDataAbortSame
	if lowerEL {
		class = ecDataAbortLower
	}
	iss := uint32(dfsc & 0x3f)
	if write {
		iss |= 1 << 6
	}
	return uint64(class)<<26 | uint64(iss)
}

// TranslationFaultDFSC builds the raw DFSC code for a translation
// fault at the given level (0-3).
func TranslationFaultDFSC(level uint8) uint8 { return 0b000100 | (level & 0x3) }

// PermissionFaultDFSC builds the raw DFSC code for a permission fault
// at the given level (0-3).
func PermissionFaultDFSC(level uint8) uint8 { return 0b001100 | (level & 0x3) }
