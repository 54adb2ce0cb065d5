package config

import (
	"encoding/hex"
	"fmt"
)

// Keys decodes the encryption keys. Each must be 32 bytes.
func (c Config) Keys() ([][]byte, error) {
	out := make([][]byte, 0, len(c.Encryption.Keys))
	for i, k := range c.Encryption.Keys {
		b, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("encryption.keys[%d]: not hex: %w", i, err)
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("encryption.keys[%d]: want 32 bytes, got %d", i, len(b))
		}
		out = append(out, b)
	}
	return out, nil
}
