// internal/protocol/code.go
package protocol

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet deliberately omits I, O, 0 and 1 so codes survive being read
// aloud or scribbled on a whiteboard.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLength is the fixed length of human-shareable room codes.
const RoomCodeLength = 6

// NewRoomCode returns a fresh 6-character room code.
func NewRoomCode() string {
	buf := make([]byte, RoomCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			// crypto/rand only fails if the platform source is broken;
			// fall back to the first glyph rather than panic mid-join.
			buf[i] = codeAlphabet[0]
			continue
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf)
}

var nameAdjectives = []string{
	"Swift", "Bold", "Brave", "Calm", "Jolly", "Modest", "Adamant", "Timid",
	"Hasty", "Gentle", "Sassy", "Naive", "Quiet", "Rash", "Careful", "Naughty",
	"Lonely", "Mild", "Relaxed", "Impish", "Lax", "Hardy", "Docile", "Serious",
}

var nameNouns = []string{
	"Falcon", "Badger", "Otter", "Lynx", "Raven", "Viper",
	"Heron", "Marten", "Puffin", "Gecko", "Mantis", "Osprey",
	"Civet", "Fennec", "Tapir", "Serval", "Magpie", "Stoat",
	"Ibis", "Drake", "Wombat", "Shrike", "Hornet", "Kestrel",
}

// RandomPlayerName produces a display name for participants who never set one.
func RandomPlayerName() string {
	pick := func(words []string) string {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
		if err != nil {
			return words[0]
		}
		return words[n.Int64()]
	}
	return pick(nameAdjectives) + pick(nameNouns)
}
