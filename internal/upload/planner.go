package upload

import "fmt"

// Plan is the part layout chosen for one file
type Plan struct {
	// Direct means the file is sent in a single request without a session
	Direct    bool
	PartSize  int64
	PartCount int
}

// PlanParts computes the effective part size and part count for a file of
// size bytes. Files smaller than partSize are sent directly. When the
// configured part size would need more than maxParts parts, the part size is
// grown to size/maxParts (rounded up to a whole byte).
func PlanParts(size, partSize int64, maxParts int) (Plan, error) {
	if size <= 0 {
		return Plan{}, fmt.Errorf("%w: size must be greater than 0, got %d", ErrInvalidConfig, size)
	}
	if partSize <= 0 {
		return Plan{}, fmt.Errorf("%w: part size must be greater than 0, got %d", ErrInvalidConfig, partSize)
	}
	if maxParts < 1 {
		return Plan{}, fmt.Errorf("%w: max parts must be at least 1, got %d", ErrInvalidConfig, maxParts)
	}

	if size < partSize {
		return Plan{Direct: true, PartSize: size, PartCount: 1}, nil
	}

	if ceilDiv(size, partSize) > int64(maxParts) {
		partSize = ceilDiv(size, int64(maxParts))
	}

	return Plan{
		PartSize:  partSize,
		PartCount: int(ceilDiv(size, partSize)),
	}, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
