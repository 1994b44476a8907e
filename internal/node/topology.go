package node

import "slices"

// RingLattice picks up to fanout neighbours for self from a sorted roster,
// alternating clockwise and counter-clockwise by growing distance. With
// fanout >= 2 every node links to both ring neighbours, so the graph stays
// connected. fanout <= 0 selects every other node.
func RingLattice(roster []string, self string, fanout int) []string {
	idx := slices.Index(roster, self)
	if idx < 0 {
		return nil
	}
	n := len(roster)
	if fanout <= 0 || fanout >= n-1 {
		out := make([]string, 0, n-1)
		for _, id := range roster {
			if id != self {
				out = append(out, id)
			}
		}
		return out
	}

	out := make([]string, 0, fanout)
	for d := 1; d < n && len(out) < fanout; d++ {
		for _, j := range [2]int{(idx + d) % n, (idx - d + n) % n} {
			if len(out) == fanout {
				break
			}
			if j == idx || slices.Contains(out, roster[j]) {
				continue
			}
			out = append(out, roster[j])
		}
	}
	slices.Sort(out)
	return out
}
