package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/scenario"
	"circuitcraft.ai/internal/sim/world"
)

type RenderOptions struct {
	*RootOptions
	Y     int
	Ticks int
}

// LayerResult is the --format=json payload of render. Rows run from MinZ upwards, each
// row from MinX upwards.
type LayerResult struct {
	Scenario string   `json:"scenario"`
	Y        int      `json:"y"`
	Tick     uint64   `json:"tick"`
	MinX     int      `json:"min_x"`
	MinZ     int      `json:"min_z"`
	Rows     []string `json:"rows"`
}

func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <scenario.json>",
		Short: "Print one Y layer of a scenario as ASCII",
		Long: `Build the scenario, run its first --ticks ticks and print layer --y of every
loaded area at that height.

  .  air        #  stone      -/=  wire off/on   o/O  lamp off/on
  s/S switch    c/C clock     a/A  AND           r/R  OR
  x/X XOR       n/N NOT       (blank) unloaded`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Y, "y", 0, "global Y of the layer")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "ticks to run before rendering (capped at the scenario length)")
	return cmd
}

func runRender(opts *RenderOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}
	if opts.Ticks < 0 {
		return NewExitError(ExitCommandError, "--ticks must be >= 0")
	}
	if opts.Ticks < s.Ticks {
		s.Ticks = opts.Ticks
	}

	w, ed, err := s.NewWorld(world.DefaultConfig(), engineLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitCommandError, "build scenario", err)
	}
	if _, err := s.Run(w, ed, nil); err != nil {
		return WrapExitError(ExitCommandError, "run scenario", err)
	}

	layer, ok := RenderLayer(w, opts.Y)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("no area loaded at y=%d", opts.Y))
	}
	layer.Scenario = s.Name

	if f.json() {
		return f.writeJSON("ok", layer, "")
	}
	fmt.Fprintf(f.out, "%s y=%d tick=%d x=%d..%d z=%d..%d\n", layer.Scenario, layer.Y, layer.Tick,
		layer.MinX, layer.MinX+len(layer.Rows[0])-1, layer.MinZ, layer.MinZ+len(layer.Rows)-1)
	for _, r := range layer.Rows {
		fmt.Fprintln(f.out, r)
	}
	return nil
}

// RenderLayer draws global layer y over the bounding box of the areas loaded at that
// height. ok is false when none is.
func RenderLayer(w *world.World, y int) (LayerResult, bool) {
	ay := grid.FloorDiv(y, grid.AreaSize)
	var keys []grid.AreaKey
	for _, k := range w.Keys() {
		if k.Y == ay {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return LayerResult{}, false
	}
	minX, maxX, minZ, maxZ := keys[0].X, keys[0].X, keys[0].Z, keys[0].Z
	for _, k := range keys[1:] {
		minX, maxX = min(minX, k.X), max(maxX, k.X)
		minZ, maxZ = min(minZ, k.Z), max(maxZ, k.Z)
	}

	out := LayerResult{
		Y:    y,
		Tick: w.CurrentTick(),
		MinX: minX * grid.AreaSize,
		MinZ: minZ * grid.AreaSize,
	}
	width := (maxX - minX + 1) * grid.AreaSize
	depth := (maxZ - minZ + 1) * grid.AreaSize
	var sb strings.Builder
	for dz := 0; dz < depth; dz++ {
		sb.Reset()
		for dx := 0; dx < width; dx++ {
			k, l := grid.SplitGlobal(grid.Vec3i{X: out.MinX + dx, Y: y, Z: out.MinZ + dz})
			a, ok := w.Area(k)
			if !ok {
				sb.WriteByte(' ')
				continue
			}
			sb.WriteByte(glyph(a.Type(l), a.State(l)))
		}
		out.Rows = append(out.Rows, sb.String())
	}
	return out, true
}

func glyph(t blocks.Type, on bool) byte {
	pick := func(off, lit byte) byte {
		if on {
			return lit
		}
		return off
	}
	switch t {
	case blocks.Air:
		return '.'
	case blocks.Stone:
		return '#'
	case blocks.WireOff:
		return '-'
	case blocks.WireOn:
		return '='
	case blocks.LampOff:
		return 'o'
	case blocks.LampOn:
		return 'O'
	case blocks.SwitchOff:
		return 's'
	case blocks.SwitchOn:
		return 'S'
	case blocks.Clock:
		return pick('c', 'C')
	case blocks.AndGate:
		return pick('a', 'A')
	case blocks.OrGate:
		return pick('r', 'R')
	case blocks.XorGate:
		return pick('x', 'X')
	case blocks.NotGate:
		return pick('n', 'N')
	}
	return '?'
}
