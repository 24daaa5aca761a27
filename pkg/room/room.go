package room

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// MinIDLength is the shortest room id the room server accepts
const MinIDLength = 5

// The room server only accepts word characters plus hyphen and underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate reports whether id is an acceptable room id
func Validate(id string) bool {
	return len(id) >= MinIDLength && idPattern.MatchString(id)
}

// RandomID returns a 9 digit room id suggestion
func RandomID() string {
	var b strings.Builder
	for i := 0; i < 9; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}
