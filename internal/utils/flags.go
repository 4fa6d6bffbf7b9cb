package utils

import (
	"fmt"
	"math/bits"
	"strings"
)

type Flags interface {
	~int32 | ~uint32
}

// FlagStringMapping renders bitflag values as a pipe-separated list of registered names.
// Bits without a registered name are rendered in hex.
type FlagStringMapping[T Flags] struct {
	names map[T]string
}

func NewFlagStringMapping[T Flags]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(value T, str string) {
	m.names[value] = str
}

func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var sb strings.Builder
	remaining := uint32(value)
	for remaining != 0 {
		bit := uint32(1) << bits.TrailingZeros32(remaining)
		remaining &^= bit

		if sb.Len() > 0 {
			sb.WriteString("|")
		}

		str, ok := m.names[T(bit)]
		if !ok {
			str = fmt.Sprintf("0x%x", bit)
		}
		sb.WriteString(str)
	}

	return sb.String()
}
