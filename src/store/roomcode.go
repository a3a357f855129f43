package store

import nanoid "github.com/jaevor/go-nanoid"

// RoomCodeLength is the fixed length of room short codes.
const RoomCodeLength = 5

// roomCodeAlphabet keeps codes easy to read aloud and type.
const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var newRoomCode = mustCodeGenerator()

func mustCodeGenerator() func() string {
	gen, err := nanoid.CustomASCII(roomCodeAlphabet, RoomCodeLength)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewRoomCode returns a random 5-character room code (A-Z, 0-9).
func NewRoomCode() string {
	return newRoomCode()
}

// IsValidRoomCode reports whether id is a well-formed room code.
func IsValidRoomCode(id string) bool {
	if len(id) != RoomCodeLength {
		return false
	}
	for _, c := range id {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
