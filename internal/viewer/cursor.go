package viewer

// Boundary messages shown when navigation cannot move.
const (
	MsgLastFrame  = "Reached last frame."
	MsgFirstFrame = "Reached first frame."
)

// Cursor is a position in a frame sequence of length Len. It is a value:
// navigation returns a new cursor and leaves the receiver untouched.
type Cursor struct {
	Index int
	Len   int
}

// Valid reports whether the cursor points at a frame.
func (c Cursor) Valid() bool {
	return c.Index >= 0 && c.Index < c.Len
}

// Next advances one frame. At the last frame it returns c and false.
func (c Cursor) Next() (Cursor, bool) {
	if c.Index >= c.Len-1 {
		return c, false
	}
	c.Index++
	return c, true
}

// Prev steps back one frame. At the first frame it returns c and false.
func (c Cursor) Prev() (Cursor, bool) {
	if c.Index <= 0 {
		return c, false
	}
	c.Index--
	return c, true
}

// Seek jumps to index i. An out-of-range i returns c and false.
func (c Cursor) Seek(i int) (Cursor, bool) {
	if i < 0 || i >= c.Len || i == c.Index {
		return c, false
	}
	c.Index = i
	return c, true
}

// AtEnd reports whether Next would not move.
func (c Cursor) AtEnd() bool { return c.Index >= c.Len-1 }

// AtStart reports whether Prev would not move.
func (c Cursor) AtStart() bool { return c.Index <= 0 }
