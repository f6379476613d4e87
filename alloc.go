package htmlstage

import "strconv"

// Allocator issues node identifiers for one open document. Identifiers grow
// monotonically and are never handed out twice while the document is open.
// The zero value is ready to use and issues "1" first.
type Allocator struct {
	max int
}

// NewAllocator returns an allocator whose next identifier is max+1.
func NewAllocator(max int) *Allocator {
	if max < 0 {
		max = 0
	}
	return &Allocator{max: max}
}

// Next issues a fresh identifier.
func (a *Allocator) Next() UID {
	a.max++
	return UID(strconv.Itoa(a.max))
}

// Max returns the highest identifier issued so far.
func (a *Allocator) Max() int {
	return a.max
}

// Observe raises the high-water mark to n when n is higher. It is used after a
// parse allocated identifiers on its own.
func (a *Allocator) Observe(n int) {
	if n > a.max {
		a.max = n
	}
}

// Reset starts numbering from scratch for a newly opened document.
func (a *Allocator) Reset() {
	a.max = 0
}

// uidNumber returns the numeric value of an allocated uid, or 0.
func uidNumber(uid UID) int {
	n, err := strconv.Atoi(string(uid))
	if err != nil {
		return 0
	}
	return n
}
