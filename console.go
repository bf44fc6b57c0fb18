package kernel

import (
	"sort"
	"strconv"
)

// Console is a minimal stand-in for the kernel debug console tradition
// mentioned in spec.md §6 Observability, kept deliberately small since the
// console subsystem itself is out of scope. It offers just enough to
// inspect registered fault vectors from a debugging session.
type Console struct {
	vectors map[int]string
}

// NewConsole returns an empty Console.
func NewConsole() *Console {
	return &Console{vectors: make(map[int]string)}
}

// RegisterVector names a fault/exception vector number for Exc to report.
func (c *Console) RegisterVector(n int, name string) {
	c.vectors[n] = name
}

// Exc lists every registered fault vector, ordered by number, in the
// "<n>: <name>" shape HelenOS's own exc console command prints.
func (c *Console) Exc() []string {
	nums := make([]int, 0, len(c.vectors))
	for n := range c.vectors {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = strconv.Itoa(n) + ": " + c.vectors[n]
	}
	return out
}
