package vmm

import (
	"pikernel/kernel"
	"pikernel/kernel/mm/pmm"
)

// Frame is a physical frame address, 4KB-aligned.
type Frame uintptr

// InvalidFrame is returned by allocation failures and by Translate for
// unmapped addresses, mirroring the teacher's mm.Frame/InvalidFrame
// sentinel pattern.
const InvalidFrame = Frame(^uintptr(0))

// allocFrameFn and freeFrameFn are the package-level indirection points
// for physical frame allocation, generalized from the teacher's
// mm.FrameAllocatorFn/SetFrameAllocator pair so tests can substitute a
// small deterministic allocator without a real pmm.Heap.
var (
	allocFrameFn = defaultAllocFrame
	freeFrameFn  = defaultFreeFrame

	backingHeap *pmm.Heap
	backingMem  []byte
)

// SetFrameAllocator installs a physical memory region (a host byte
// slice standing in for RAM) and a pmm.Heap dividing it into PageSize
// blocks, used by every mapping operation that needs a fresh frame.
func SetFrameAllocator(mem []byte, heap *pmm.Heap) {
	backingMem = mem
	backingHeap = heap
}

func defaultAllocFrame() (Frame, *kernel.Error) {
	block, err := backingHeap.Alloc(1)
	if err != nil {
		return InvalidFrame, err
	}
	addr := Frame(block * uint64(backingHeap.BlockSize()))
	kernel.Memset(frameAddr(addr), 0, PageSize)
	return addr, nil
}

func defaultFreeFrame(f Frame) *kernel.Error {
	block := uint64(f) / uint64(backingHeap.BlockSize())
	return backingHeap.Free(block, 1)
}

// AllocFrame reserves and zeroes a fresh physical frame.
func AllocFrame() (Frame, *kernel.Error) {
	return allocFrameFn()
}

// FreeFrame releases a physical frame back to the allocator.
func FreeFrame(f Frame) *kernel.Error {
	return freeFrameFn(f)
}

// frameAddr returns the host address backing physical frame f, so that
// kernel.Memcopy/Memset can operate on it directly. This is the host
// model's stand-in for treating physical addresses as directly
// addressable memory, true on real hardware before the MMU is enabled
// and modeled here by indexing into the simulated RAM slice.
func frameAddr(f Frame) uintptr {
	return sliceBase(backingMem) + uintptr(f)
}

// CopyFromUser reads length bytes starting at the user virtual address
// va out of space, walking page by page so a copy spanning multiple,
// non-physically-contiguous frames is handled correctly. Mirrors a
// kernel's copy_from_user: the only sanctioned way a syscall handler
// may read user memory.
func CopyFromUser(space *AddressSpace, va uintptr, length int) ([]byte, *kernel.Error) {
	if length == 0 {
		return nil, nil
	}
	out := make([]byte, length)
	remaining := length
	cursor := va
	written := 0
	for remaining > 0 {
		inPage := PageSize - int(cursor%PageSize)
		chunk := remaining
		if chunk > inPage {
			chunk = inPage
		}
		if !space.ValidateAccess(cursor, AccessRead) {
			return nil, ErrNotFound
		}
		pa, _, err := space.TranslateInVMA(cursor)
		if err != nil {
			return nil, err
		}
		copy(out[written:written+chunk], backingMem[pa:pa+uintptr(chunk)])
		cursor += uintptr(chunk)
		written += chunk
		remaining -= chunk
	}
	return out, nil
}

// CopyToUser writes data into the user virtual address va within
// space, the copy_to_user equivalent of CopyFromUser.
func CopyToUser(space *AddressSpace, va uintptr, data []byte) *kernel.Error {
	remaining := len(data)
	if remaining == 0 {
		return nil
	}
	cursor := va
	read := 0
	for remaining > 0 {
		inPage := PageSize - int(cursor%PageSize)
		chunk := remaining
		if chunk > inPage {
			chunk = inPage
		}
		if !space.ValidateAccess(cursor, AccessWrite) {
			return ErrNotFound
		}
		pa, _, err := space.TranslateInVMA(cursor)
		if err != nil {
			return err
		}
		copy(backingMem[pa:pa+uintptr(chunk)], data[read:read+chunk])
		cursor += uintptr(chunk)
		read += chunk
		remaining -= chunk
	}
	return nil
}
