package utils

import "math/rand"

// Uint32Random returns a pseudo-random value in [min, max), used by the
// demo worker to simulate variable work runtimes.
func Uint32Random(min uint32, max uint32) uint32 {
	value := rand.Uint32()
	value %= (max - min)
	value += min
	return value
}
