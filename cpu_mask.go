package main

import (
	"iter"
	"math/bits"
	"strconv"
	"strings"
)

// CPUMask is a set of processor ids, one bit per id.
type CPUMask uint64

// CPUBit returns the single-bit mask for id.
func CPUBit(id int) CPUMask {
	return CPUMask(1) << uint(id)
}

func (m CPUMask) Has(id int) bool {
	return m&CPUBit(id) != 0
}

func (m CPUMask) Set(id int) CPUMask {
	return m | CPUBit(id)
}

func (m CPUMask) Clear(id int) CPUMask {
	return m &^ CPUBit(id)
}

func (m CPUMask) Empty() bool {
	return m == 0
}

func (m CPUMask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// First returns the lowest id in the mask, or -1 if the mask is empty.
func (m CPUMask) First() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}

// IDs yields the ids in the mask in ascending order. The mask is captured
// when IDs is called, so callers may modify their own copy while ranging.
func (m CPUMask) IDs() iter.Seq[int] {
	return func(yield func(int) bool) {
		for rest := m; rest != 0; rest &= rest - 1 {
			if !yield(bits.TrailingZeros64(uint64(rest))) {
				return
			}
		}
	}
}

// MaskOf builds a mask from a list of ids.
func MaskOf(ids ...int) CPUMask {
	var m CPUMask
	for _, id := range ids {
		m = m.Set(id)
	}
	return m
}

// String renders the mask as a brace-enclosed id list, e.g. "{0,2,5}".
func (m CPUMask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for id := range m.IDs() {
		if !first {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(id))
		first = false
	}
	sb.WriteByte('}')
	return sb.String()
}
