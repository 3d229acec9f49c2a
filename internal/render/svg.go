package render

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"sync"
)

// SVGSurface keeps the latest scene and writes it out as a standalone SVG
// document on demand.
type SVGSurface struct {
	mu     sync.Mutex
	width  float64
	height float64
	scene  scene
}

// NewSVGSurface creates an SVG surface of the given size.
func NewSVGSurface(width, height float64) *SVGSurface {
	return &SVGSurface{width: width, height: height, scene: newScene()}
}

func (s *SVGSurface) Size() (float64, float64) {
	return s.width, s.height
}

func (s *SVGSurface) DrawBatch(b *Batch) error {
	s.mu.Lock()
	s.scene.applyBatch(b)
	s.mu.Unlock()
	return nil
}

func (s *SVGSurface) ApplyPatch(p *Patch) error {
	s.mu.Lock()
	s.scene.applyPatch(p)
	s.mu.Unlock()
	return nil
}

// WriteTo writes the current scene as an SVG document.
func (s *SVGSurface) WriteTo(w io.Writer) (int64, error) {
	s.mu.Lock()
	elements := s.scene.sorted()
	t := s.scene.transform
	s.mu.Unlock()

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" viewBox="0 0 %g %g">`+"\n",
		s.width, s.height, s.width, s.height)
	fmt.Fprintf(bw, `<g transform="matrix(%g 0 0 %g %g %g)">`+"\n", t.Scale, t.Scale, t.TX, t.TY)

	for _, el := range elements {
		switch el.Kind {
		case ElementEdge:
			c := el.Curve
			fmt.Fprintf(bw, `<path d="%s" fill="none" stroke="%s" stroke-opacity="%.2f" stroke-width="2"/>`+"\n",
				c.Path(), c.Color.Hex(), c.Color.Opacity())
		case ElementNode:
			q := el.Quad
			fmt.Fprintf(bw, `<rect id="%s" x="%.1f" y="%.1f" width="%g" height="%g" rx="8" fill="%s" fill-opacity="%.2f"`,
				escape(q.ID), q.X-q.W/2, q.Y-q.H/2, q.W, q.H, q.Fill.Hex(), q.Fill.Opacity())
			if q.Stroke.A > 0 {
				fmt.Fprintf(bw, ` stroke="%s" stroke-width="3"`, q.Stroke.Hex())
			}
			bw.WriteString("/>\n")
			if q.Label != "" {
				fmt.Fprintf(bw, `<text x="%.1f" y="%.1f" text-anchor="middle" dominant-baseline="middle" font-size="12">%s</text>`+"\n",
					q.X, q.Y, escape(q.Label))
			}
		}
	}

	bw.WriteString("</g>\n</svg>\n")
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("writing svg: %w", err)
	}
	return cw.n, nil
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
