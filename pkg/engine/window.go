package engine

import "github.com/nimburion/tabular/pkg/query"

// selectWindow returns rows[start:start+length] clamped to the slice bounds.
func selectWindow(rows []row, w query.Window) []row {
	n := uint64(len(rows))
	if w.Start >= n {
		return nil
	}
	end := n
	if w.Length < n-w.Start {
		end = w.Start + w.Length
	}
	return rows[w.Start:end]
}
