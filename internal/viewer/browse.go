package viewer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
)

// Browser is a line-driven frame inspector: "d" moves forward, "a" moves
// back, "g N" jumps to frame N, and "q" quits. The loop owns the cursor.
type Browser struct {
	Seq *Sequence
	Out io.Writer
	// Show is called with every frame the cursor lands on.
	Show func(*View) error
}

// Run reads commands from in until "q", EOF, or ctx is done. It returns the
// final cursor.
func (b *Browser) Run(ctx context.Context, in io.Reader) (Cursor, error) {
	cur := b.Seq.Start()
	if b.Seq.Len() == 0 {
		return cur, fmt.Errorf("no frames under %s", b.Seq.store.Root())
	}
	b.show(cur)

	sc := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return cur, err
		}
		fmt.Fprintf(b.Out, "[%d/%d] a=prev d=next g N=goto q=quit> ", cur.Index+1, cur.Len)
		if !sc.Scan() {
			fmt.Fprintln(b.Out)
			return cur, sc.Err()
		}
		fields := strings.Fields(strings.ToLower(sc.Text()))
		if len(fields) == 0 {
			continue
		}

		var moved bool
		switch fields[0] {
		case "q", "quit":
			return cur, nil
		case "d", "n", "next":
			if cur, moved = cur.Next(); !moved {
				fmt.Fprintln(b.Out, MsgLastFrame)
			}
		case "a", "p", "prev":
			if cur, moved = cur.Prev(); !moved {
				fmt.Fprintln(b.Out, MsgFirstFrame)
			}
		case "g", "goto":
			if len(fields) != 2 {
				fmt.Fprintln(b.Out, "usage: g N")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(b.Out, "bad frame number %q\n", fields[1])
				continue
			}
			if cur, moved = cur.Seek(n - 1); !moved && (n < 1 || n > cur.Len) {
				fmt.Fprintf(b.Out, "frame %d outside 1..%d\n", n, cur.Len)
			}
		default:
			fmt.Fprintf(b.Out, "unknown command %q\n", fields[0])
			continue
		}
		if moved {
			b.show(cur)
		}
	}
}

// show loads and displays the frame under cur. Load failures are printed
// and do not end the session.
func (b *Browser) show(cur Cursor) {
	v, err := b.Seq.Load(cur)
	if err != nil {
		logging.Warnf("viewer: frame %d: %v", cur.Index, err)
		fmt.Fprintf(b.Out, "Error loading frame %d: %v\n", cur.Index, err)
		return
	}
	fmt.Fprintf(b.Out, "Loading frame %s (%d points)\n", v.Timestamp, len(v.Coord))
	if b.Show != nil {
		if err := b.Show(v); err != nil {
			fmt.Fprintf(b.Out, "Error showing frame %s: %v\n", v.Timestamp, err)
		}
	}
}
