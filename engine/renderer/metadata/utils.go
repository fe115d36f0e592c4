package metadata

/** @brief A range, typically of memory */
type MemoryRange struct {
	/** @brief The Offset in bytes. */
	Offset uint64
	/** @brief The size in bytes. */
	Size uint64
}

func GetAlignedRange(offset, size, granularity uint64) MemoryRange {
	return MemoryRange{
		Offset: GetAligned(offset, granularity),
		Size:   GetAligned(size, granularity),
	}
}

// GetAligned rounds operand up to the next multiple of granularity, which
// must be a power of two.
func GetAligned(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

// SplitRange cuts [0, size) into consecutive ranges of at most chunk bytes.
func SplitRange(size, chunk uint64) []MemoryRange {
	var out []MemoryRange
	for off := uint64(0); off < size; off += chunk {
		n := chunk
		if off+n > size {
			n = size - off
		}
		out = append(out, MemoryRange{Offset: off, Size: n})
	}
	return out
}
