// internal/protocol/code_test.go
package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := NewRoomCode()
		assert.Len(t, code, RoomCodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, ch), "unexpected glyph %q", ch)
		}
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "1")
		seen[code] = true
	}
	// 200 draws from a 32^6 space colliding down to a handful would mean a
	// broken generator.
	assert.Greater(t, len(seen), 190)
}

func TestRandomPlayerName(t *testing.T) {
	for i := 0; i < 20; i++ {
		name := RandomPlayerName()
		assert.NotEmpty(t, name)
	}
}
