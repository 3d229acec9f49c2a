package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/offload"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/render"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/spatial"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// syntheticTree builds a random forest: the first anchors nodes are
// anchors and every other node hangs off a random earlier node.
func syntheticTree(n, anchors int, seed int64) *tree.Data {
	if anchors > n {
		anchors = n
	}
	rng := rand.New(rand.NewSource(seed))
	d := &tree.Data{TreeID: fmt.Sprintf("bench-%d", seed)}
	for i := 0; i < n; i++ {
		node := tree.Node{
			ID:      fmt.Sprintf("n%d", i),
			Label:   fmt.Sprintf("Skill %d", i),
			Type:    tree.TypeSkill,
			Visible: true,
			State:   tree.StateLocked,
		}
		switch {
		case i < anchors:
			node.Anchor = true
			node.Type = tree.TypeSkillGroup
			node.State = tree.StateAvailable
		case rng.Intn(10) == 0:
			node.Type = tree.TypeOccupation
		}
		d.Nodes = append(d.Nodes, node)
		if i >= anchors && i > 0 {
			parent := rng.Intn(i)
			d.Edges = append(d.Edges, tree.Edge{
				Source: d.Nodes[parent].ID,
				Target: node.ID,
				Weight: rng.Float64(),
				Type:   tree.EdgePrerequisite,
			})
		}
	}
	return d
}

type layoutRunner interface {
	CalculateLayout(ctx context.Context, nodes []tree.Node, edges []tree.Edge, cx, cy float64) (offload.Result, error)
}

// benchReport is what runBench measures.
type benchReport struct {
	Nodes        int
	Edges        int
	Layout       time.Duration
	Memo         bool
	MemoTime     time.Duration
	Index        time.Duration
	Visible      int
	Query        time.Duration
	FPS          float64
	Strategy     governor.Strategy
	Drawn        render.Stats
	DrawnBatches int
	DrawnPatches int
}

func bench(ctx context.Context, d *tree.Data, width, height float64, gridSize float64, frame time.Duration, caps governor.Caps, exec layoutRunner) (benchReport, error) {
	r := benchReport{Nodes: len(d.Nodes), Edges: len(d.Edges)}
	cx, cy := width/2, height/2

	res, err := exec.CalculateLayout(ctx, d.Nodes, d.Edges, cx, cy)
	if err != nil {
		return r, fmt.Errorf("layout: %w", err)
	}
	r.Layout = res.ComputeTime
	again, err := exec.CalculateLayout(ctx, d.Nodes, d.Edges, cx, cy)
	if err != nil {
		return r, fmt.Errorf("layout: %w", err)
	}
	r.Memo = again.Cached
	r.MemoTime = again.ComputeTime

	ix := spatial.New(gridSize)
	start := time.Now()
	ix.IndexAll(res.Nodes)
	r.Index = time.Since(start)

	start = time.Now()
	visible := ix.QueryBounds(render.Identity.Visible(width, height))
	r.Query = time.Since(start)
	r.Visible = len(visible)

	gov := governor.New(governor.Config{Caps: caps})
	for i := 0; i < governor.DefaultWindow; i++ {
		gov.RecordFrame(frame)
	}
	r.Strategy = gov.Evaluate()
	r.FPS = gov.AverageFPS()

	rec := render.NewRecorder(width, height)
	r.Drawn, err = render.New(r.Strategy).Render(rec, &render.Frame{
		Nodes:     visible,
		Edges:     d.Edges,
		Transform: render.Identity,
		Cap:       gov.NodeCap(),
	})
	if err != nil {
		return r, err
	}
	r.DrawnBatches, r.DrawnPatches = rec.Batches(), rec.Patches()
	return r, nil
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if benchNodes <= 0 {
		return fmt.Errorf("nodes must be positive")
	}

	exec := newExecutor(cfg)
	exec.Start()
	defer exec.Close()

	d := syntheticTree(benchNodes, benchAnchors, benchSeed)
	tree.Sanitize(d)
	frame := time.Duration(benchFrameMS * float64(time.Millisecond))
	r, err := bench(cmd.Context(), d, cfg.ViewportWidth, cfg.ViewportHeight, cfg.GridSize, frame, cfg.NodeCaps, exec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tree:      %d nodes, %d edges (seed %d)\n", r.Nodes, r.Edges, benchSeed)
	fmt.Fprintf(out, "Layout:    %v (repeat: %v, memoised=%v)\n", r.Layout, r.MemoTime, r.Memo)
	fmt.Fprintf(out, "Index:     %v\n", r.Index)
	fmt.Fprintf(out, "Cull:      %d visible in %v\n", r.Visible, r.Query)
	fmt.Fprintf(out, "Governor:  %.1f fps -> %s (cap %d)\n", r.FPS, r.Strategy, cfg.NodeCaps.For(r.Strategy))
	fmt.Fprintf(out, "Frame:     %d nodes, %d edges, %d batches, %d patches\n",
		r.Drawn.Nodes, r.Drawn.Edges, r.DrawnBatches, r.DrawnPatches)
	return nil
}
