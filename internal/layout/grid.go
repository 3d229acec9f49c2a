package layout

import (
	"math"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// Grid spacing used by the fallback placement.
const (
	GridSpacingX = 200
	GridSpacingY = 120
)

// Grid places visible nodes on a square-ish grid centred on (cx, cy).
// It is the placement of last resort when a layout pass times out or the
// worker running it crashes.
func Grid(nodes []tree.Node, cx, cy float64) []tree.Node {
	out := make([]tree.Node, len(nodes))
	copy(out, nodes)

	count := 0
	for i := range out {
		if out[i].Visible {
			count++
		}
	}
	if count == 0 {
		return out
	}

	cols := int(math.Ceil(math.Sqrt(float64(count))))
	rows := (count + cols - 1) / cols
	x0 := cx - float64(cols-1)*GridSpacingX/2
	y0 := cy - float64(rows-1)*GridSpacingY/2

	k := 0
	for i := range out {
		if !out[i].Visible {
			out[i].X, out[i].Y = 0, 0
			continue
		}
		out[i].X = x0 + float64(k%cols)*GridSpacingX
		out[i].Y = y0 + float64(k/cols)*GridSpacingY
		k++
	}
	return out
}
