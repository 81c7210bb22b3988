package testutil

import (
	"pinvault/internal/config"
	"pinvault/internal/encryption"
	"pinvault/internal/pv"
)

// FastKDF returns an Argon2id deriver with the cheapest legal parameters.
func FastKDF() *encryption.Argon2KDF {
	return encryption.NewArgon2KDF(config.KDFConfig{Time: 1, MemoryKiB: 64, Threads: 1})
}

// GatedKDF wraps a KeyDeriver so Verify blocks until released. Entered
// receives a value each time Verify starts waiting.
type GatedKDF struct {
	pv.KeyDeriver
	Entered chan struct{}
	release chan struct{}
}

func NewGatedKDF(inner pv.KeyDeriver) *GatedKDF {
	return &GatedKDF{
		KeyDeriver: inner,
		Entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

// Release lets one blocked Verify proceed.
func (g *GatedKDF) Release() {
	g.release <- struct{}{}
}

func (g *GatedKDF) Verify(pin string, salt, expected []byte) ([]byte, bool, error) {
	g.Entered <- struct{}{}
	<-g.release
	return g.KeyDeriver.Verify(pin, salt, expected)
}
