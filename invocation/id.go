package invocation

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/aidarkhanov/nanoid"
)

const (
	idAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixSize = 9
)

// NewID returns a fresh invocation id of the form inv_<unix-millis>_<suffix>.
func NewID() string {
	suffix, err := nanoid.Generate(idAlphabet, idSuffixSize)
	if err != nil {
		suffix = strconv.FormatUint(rand.Uint64(), 36)
	}
	return fmt.Sprintf("inv_%d_%s", time.Now().UnixMilli(), suffix)
}
