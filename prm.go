package ocl

import "unsafe"

// Prm is the constraint for element types that may live in device-mapped
// memory. It admits exactly the fixed-layout scalar types: no pointers, no
// interfaces, nothing the garbage collector has to track. A typed view over
// a mapping is only sound for these types.
type Prm interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

// SizeOf returns the size of T in bytes.
func SizeOf[T Prm]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func alignOf[T Prm]() int {
	var zero T
	return int(unsafe.Alignof(zero))
}
