//go:build !linux

package affinity

// Default returns the platform pinner; thread affinity is only supported on linux.
func Default() Pinner { return noopPinner{} }
