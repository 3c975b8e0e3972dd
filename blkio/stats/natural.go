package stats

import "sort"

// sortByDevice orders per-device stats by device number, ascending.
func sortByDevice(s []*PerDeviceStats) {
	sort.Slice(s, func(i, j int) bool { return s[i].Device < s[j].Device })
}

// sortProcesses orders per-process stats by comm-name using a natural
// (version-aware) comparison — digit runs are compared numerically
// rather than lexically, so "proc2" sorts before "proc10" — ties
// broken by PID, per spec.md §4.5.
func sortProcesses(s []*PerProcessStats) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Comm != s[j].Comm {
			return naturalLess(s[i].Comm, s[j].Comm)
		}
		return s[i].PID < s[j].PID
	})
}

// naturalLess reports whether a sorts before b, comparing maximal runs
// of digits as numbers and everything else byte-by-byte.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			na, ni := scanNumber(a, i)
			nb, nj := scanNumber(b, j)
			if na != nb {
				return na < nb
			}
			i, j = ni, nj
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// scanNumber reads the maximal digit run in s starting at i and returns
// its numeric value along with the index just past it. Leading zeros
// are tolerated (the run is still parsed as a plain magnitude).
func scanNumber(s string, i int) (value uint64, next int) {
	for i < len(s) && isDigit(s[i]) {
		value = value*10 + uint64(s[i]-'0')
		i++
	}
	return value, i
}
