package core

import "unsafe"

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	// Launch context buffers are allocated on this boundary.
	CacheLineSize = 64

	// PointerSize is the width of an array handle slot in the args region.
	// It is fixed rather than taken from the host so persisted layouts are
	// identical on every machine that loads them.
	PointerSize = 8

	// RegionAlign is the boundary the args region is rounded up to.
	RegionAlign = 4
)

// IsAligned checks if a pointer (represented as a uintptr) is aligned to a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// AlignUp rounds n up to the next multiple of unit. unit need not be a
// power of two; a non-positive unit leaves n unchanged.
func AlignUp(n, unit int) int {
	if unit <= 1 {
		return n
	}
	return (n + unit - 1) / unit * unit
}

// AlignSize rounds size up to the specified power-of-two alignment boundary
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// AlignCacheLine rounds size up to cache line boundary
func AlignCacheLine(size int) int {
	return AlignSize(size, CacheLineSize)
}

// AlignedBytes allocates a zeroed byte slice with its underlying array aligned to CacheLineSize.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	// Allocate extra space to allow for alignment.
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))

	// If ptr is already aligned, offset will be 0.
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}
