package txn

import (
	"cmp"
	"fmt"

	"replikit/internal/message"
)

// Version orders writes by logical timestamp, then by node id.
type Version struct {
	TS   uint64
	Node string
}

func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.TS, o.TS); c != 0 {
		return c
	}
	return cmp.Compare(v.Node, o.Node)
}

// Dominates reports whether v is strictly newer than o.
func (v Version) Dominates(o Version) bool { return v.Compare(o) > 0 }

func (v Version) String() string { return fmt.Sprintf("(%d,%s)", v.TS, v.Node) }

func (v Version) wire() message.Version { return message.Version{TS: v.TS, Node: v.Node} }

func fromWire(w message.Version) Version { return Version{TS: w.TS, Node: w.Node} }
