package irq

import "testing"

func resetAll() {
	ResetStats()
	nestingDepth = 0
	irqHandlers = map[uint32]struct {
		fn       IRQHandlerFunc
		priority Priority
	}{}
}

func TestRecordStackOverflowIncrementsSharedCounter(t *testing.T) {
	resetAll()
	RecordStackOverflow()
	RecordStackOverflow()
	if s := StatsSnapshot(); s.StackOverflows != 2 {
		t.Fatalf("expected StackOverflows=2, got %d", s.StackOverflows)
	}
}

func TestDispatchIRQPerSourceStatistics(t *testing.T) {
	resetAll()
	DispatchIRQ(64, nil, nil)  // timer
	DispatchIRQ(64, nil, nil)  // timer
	DispatchIRQ(153, nil, nil) // uart

	s := StatsSnapshot()
	if s.IRQs != 3 {
		t.Fatalf("expected 3 IRQs, got %d", s.IRQs)
	}
	if s.PerSourceIRQs[SourceTimer] != 2 {
		t.Fatalf("expected 2 timer IRQs, got %d", s.PerSourceIRQs[SourceTimer])
	}
	if s.PerSourceIRQs[SourceUART] != 1 {
		t.Fatalf("expected 1 uart IRQ, got %d", s.PerSourceIRQs[SourceUART])
	}
}

func TestDispatchIRQNestingRejectsBeyondMaxDepth(t *testing.T) {
	resetAll()

	// A handler that re-enters DispatchIRQ on its own source drives
	// the nesting counter up by one on every level; with an unbounded
	// recursive bound this would stack-overflow the host, so it caps
	// at MaxNestingDepth+2 to guarantee at least one rejection.
	RegisterIRQHandler(64, PriorityNormal, func(uint32) {
		if NestingDepth() < MaxNestingDepth+2 {
			DispatchIRQ(64, nil, nil)
		}
	})
	DispatchIRQ(64, nil, nil)

	s := StatsSnapshot()
	if s.StackOverflows == 0 {
		t.Fatal("expected at least one rejected nested IRQ past MaxNestingDepth")
	}
	if NestingDepth() != 0 {
		t.Fatalf("expected nesting depth to unwind to 0, got %d", NestingDepth())
	}
}

func TestDispatchIRQDrainsDeferredWorkOnlyAtDepthZero(t *testing.T) {
	resetAll()
	drainCount := 0
	RegisterIRQHandler(64, PriorityNormal, func(uint32) {
		DispatchIRQ(64, nil, func() { drainCount++ })
	})
	DispatchIRQ(64, nil, func() { drainCount++ })

	if drainCount != 1 {
		t.Fatalf("expected drain to run exactly once (only at depth 0), got %d", drainCount)
	}
}

func TestDispatchSErrorIsAlwaysFatal(t *testing.T) {
	resetAll()
	f := &Frame{ESR: EncodeDataAbort(false, TranslationFaultDFSC(1), true)}
	detail := DispatchSError(f)

	if StatsSnapshot().SErrors != 1 {
		t.Fatal("expected SError statistic to increment")
	}
	// SError carries no recovery path in this engine: the caller must
	// always treat DispatchSError's return as fatal regardless of the
	// decoded detail, which this test documents by checking there is
	// no SyncOutcome returned at all (a different, non-recoverable type).
	_ = detail
}

func TestDispatchSyncRoutesSyscall(t *testing.T) {
	f := &Frame{ESR: EncodeSVC(42)}
	detail, outcome := DispatchSync(f)
	if outcome != SyncHandledBySyscall {
		t.Fatalf("expected SyncHandledBySyscall, got %v", outcome)
	}
	if detail.Imm16 != 42 {
		t.Fatalf("expected imm16=42, got %d", detail.Imm16)
	}
}

func TestDispatchSyncRoutesDataAbortToFaultAnalysis(t *testing.T) {
	f := &Frame{ESR: EncodeDataAbort(true, PermissionFaultDFSC(3), true)}
	detail, outcome := DispatchSync(f)
	if outcome != SyncNeedsFaultAnalysis {
		t.Fatalf("expected SyncNeedsFaultAnalysis, got %v", outcome)
	}
	if detail.FSC != FaultPermission || detail.Level != 3 || !detail.WnR {
		t.Fatalf("unexpected decode: %+v", detail)
	}
}

func TestDispatchSyncRoutesBreakpointByOriginEL(t *testing.T) {
	lower := &Frame{ESR: uint64(ecBreakpointLower) << 26}
	_, outcome := DispatchSync(lower)
	if outcome != SyncDebugEL0Terminate {
		t.Fatalf("expected SyncDebugEL0Terminate for lower-EL breakpoint, got %v", outcome)
	}

	same := &Frame{ESR: uint64(ecBreakpointSame) << 26}
	_, outcome = DispatchSync(same)
	if outcome != SyncDebugEL1Panic {
		t.Fatalf("expected SyncDebugEL1Panic for same-EL breakpoint, got %v", outcome)
	}
}

func TestDispatchSyncUnknownClassPanics(t *testing.T) {
	f := &Frame{ESR: uint64(ecWFIWFE) << 26}
	_, outcome := DispatchSync(f)
	if outcome != SyncUnknownPanic {
		t.Fatalf("expected SyncUnknownPanic for unhandled class, got %v", outcome)
	}
}

func TestClassifySource(t *testing.T) {
	cases := map[uint32]Source{64: SourceTimer, 153: SourceUART, 129: SourceGPIO, 7: SourceOther}
	for irqNum, want := range cases {
		if got := ClassifySource(irqNum); got != want {
			t.Fatalf("irq %d: expected %v, got %v", irqNum, want, got)
		}
	}
}
