package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"voxelterrain.ai/internal/persistence/indexdb"
	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/persistence/vxb"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain"
	"voxelterrain.ai/internal/sim/voxel"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	lodFlag := func() cli.Flag { return &cli.IntFlag{Name: "lod", Value: 0, Usage: "level of detail"} }
	return &cli.App{
		Name:  "vxbtool",
		Usage: "inspects and exports terrain block directories",
		Commands: []*cli.Command{
			{
				Name:      "meta",
				Usage:     "print the directory meta",
				ArgsUsage: "<dir>",
				Action:    cmdMeta,
			},
			{
				Name:      "ls",
				Usage:     "list stored blocks",
				ArgsUsage: "<dir>",
				Flags:     []cli.Flag{lodFlag()},
				Action:    cmdList,
			},
			{
				Name:      "dump",
				Usage:     "describe the channels of one block",
				ArgsUsage: "<dir> <x,y,z>",
				Flags:     []cli.Flag{lodFlag()},
				Action:    cmdDump,
			},
			{
				Name:      "ticks",
				Usage:     "summarize the tick log",
				ArgsUsage: "<dir>",
				Action:    cmdTicks,
			},
			{
				Name:      "verify",
				Usage:     "compare stored blocks against the block index",
				ArgsUsage: "<dir>",
				Flags:     []cli.Flag{lodFlag()},
				Action:    cmdVerify,
			},
			{
				Name:      "export-glb",
				Usage:     "mesh lod-0 blocks into a binary glTF file",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Value: "terrain.glb", Usage: "output file"},
					&cli.StringFlag{Name: "min", Usage: "lowest block to include (x,y,z)"},
					&cli.StringFlag{Name: "max", Usage: "highest block to include (x,y,z)"},
				},
				Action: cmdExportGLB,
			},
		},
	}
}

func openDir(c *cli.Context) (*vxb.Stream, vxb.Meta, error) {
	if c.NArg() == 0 {
		return nil, vxb.Meta{}, fmt.Errorf("need a terrain directory")
	}
	dir := c.Args().Get(0)
	// A directory without meta would get one written; refuse instead.
	if _, err := os.Stat(filepath.Join(dir, vxb.MetaFileName)); err != nil {
		return nil, vxb.Meta{}, fmt.Errorf("%s: %w", dir, err)
	}
	s, err := vxb.NewStream(vxb.Options{})
	if err != nil {
		return nil, vxb.Meta{}, err
	}
	s.SetDirectory(dir)
	meta, err := s.Meta()
	if err != nil {
		_ = s.Close()
		return nil, vxb.Meta{}, err
	}
	return s, meta, nil
}

func cmdMeta(c *cli.Context) error {
	s, meta, err := openDir(c)
	if err != nil {
		return err
	}
	defer s.Close()
	w := c.App.Writer
	fmt.Fprintf(w, "version: %d\n", meta.Version)
	fmt.Fprintf(w, "lod_count: %d\n", meta.LODCount)
	fmt.Fprintf(w, "block_size: %v\n", meta.BlockSize)
	return nil
}

func cmdList(c *cli.Context) error {
	s, _, err := openDir(c)
	if err != nil {
		return err
	}
	defer s.Close()
	lod := c.Int("lod")
	keys, err := s.ListBlocks(lod)
	if err != nil {
		return err
	}
	var total int64
	for _, bpos := range keys {
		fi, err := os.Stat(s.BlockFilePath(bpos, lod))
		if err != nil {
			return err
		}
		total += fi.Size()
		fmt.Fprintf(c.App.Writer, "%v\t%d\n", bpos, fi.Size())
	}
	fmt.Fprintf(c.App.Writer, "%d blocks, %d bytes\n", len(keys), total)
	return nil
}

func cmdDump(c *cli.Context) error {
	s, meta, err := openDir(c)
	if err != nil {
		return err
	}
	defer s.Close()
	if c.NArg() < 2 {
		return fmt.Errorf("need a block coordinate")
	}
	bpos, err := parseVec3i(c.Args().Get(1))
	if err != nil {
		return err
	}
	lod := c.Int("lod")
	if _, err := os.Stat(s.BlockFilePath(bpos, lod)); err != nil {
		return err
	}
	size := meta.BlockSize
	buf := voxel.NewBuffer(size.X, size.Y, size.Z)
	origin := bpos.Mul(size).Scale(1 << lod)
	if err := s.EmergeBlock(buf, origin, lod); err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "block %v lod %d origin %v\n", bpos, lod, origin)
	for ch := 0; ch < voxel.MaxChannels; ch++ {
		if !buf.IsDense(ch) {
			fmt.Fprintf(w, "%-10s uniform %d\n", voxel.ChannelName(ch), buf.DefaultValue(ch))
			continue
		}
		fmt.Fprintf(w, "%-10s dense    %s\n", voxel.ChannelName(ch), histogram(buf.ChannelRaw(ch)))
	}
	return nil
}

// histogram renders value counts, most frequent first.
func histogram(data []uint8) string {
	var counts [256]int
	for _, v := range data {
		counts[v]++
	}
	var vals []int
	for v, n := range counts {
		if n > 0 {
			vals = append(vals, v)
		}
	}
	sort.Slice(vals, func(i, j int) bool {
		if counts[vals[i]] != counts[vals[j]] {
			return counts[vals[i]] > counts[vals[j]]
		}
		return vals[i] < vals[j]
	})
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, fmt.Sprintf("%d:%d", v, counts[v]))
	}
	return strings.Join(parts, " ")
}

func cmdTicks(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("need a terrain directory")
	}
	w := persistlog.NewJSONLZstdWriter(filepath.Join(c.Args().Get(0), "ticks"), "ticks")
	files, err := w.Files()
	if err != nil {
		return err
	}
	var sum terrain.TickStats
	var ticks int
	var maxUs int64
	for _, f := range files {
		err := persistlog.ReadJSONLZstd(f, func(st terrain.TickStats) error {
			ticks++
			sum.Processed += st.Processed
			sum.Emerged += st.Emerged
			sum.Meshed += st.Meshed
			sum.Cleared += st.Cleared
			sum.Skipped += st.Skipped
			sum.Remaining = st.Remaining
			sum.Tick = st.Tick
			maxUs = max(maxUs, st.ElapsedMicros)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	fmt.Fprintf(c.App.Writer, "files=%d ticks=%d last_tick=%d processed=%d emerged=%d meshed=%d cleared=%d skipped=%d remaining=%d max_us=%d\n",
		len(files), ticks, sum.Tick, sum.Processed, sum.Emerged, sum.Meshed, sum.Cleared, sum.Skipped, sum.Remaining, maxUs)
	return nil
}

func cmdVerify(c *cli.Context) error {
	s, _, err := openDir(c)
	if err != nil {
		return err
	}
	defer s.Close()
	idx, err := indexdb.OpenSQLite(filepath.Join(s.Directory(), "index", "terrain.sqlite"))
	if err != nil {
		return err
	}
	defer idx.Close()

	lod := c.Int("lod")
	keys, err := s.ListBlocks(lod)
	if err != nil {
		return err
	}
	var missing, stale int
	for _, bpos := range keys {
		payload, err := s.ReadBlockPayload(bpos, lod)
		if err != nil {
			return err
		}
		row, ok, err := idx.LookupBlock(c.Context, lod, bpos)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			missing++
			fmt.Fprintf(c.App.Writer, "missing %v\n", bpos)
		case row.Digest != indexdb.Digest(payload):
			stale++
			fmt.Fprintf(c.App.Writer, "stale   %v\n", bpos)
		}
	}
	fmt.Fprintf(c.App.Writer, "%d blocks, %d missing from index, %d stale\n", len(keys), missing, stale)
	if missing > 0 || stale > 0 {
		return fmt.Errorf("index out of date")
	}
	return nil
}

func cmdExportGLB(c *cli.Context) error {
	s, meta, err := openDir(c)
	if err != nil {
		return err
	}
	defer s.Close()

	var box *[2]mathx.Vec3i
	if c.IsSet("min") || c.IsSet("max") {
		lo, err := parseVec3i(c.String("min"))
		if err != nil {
			return fmt.Errorf("-min: %w", err)
		}
		hi, err := parseVec3i(c.String("max"))
		if err != nil {
			return fmt.Errorf("-max: %w", err)
		}
		lo, hi = mathx.SortMinMax(lo, hi)
		box = &[2]mathx.Vec3i{lo, hi}
	}
	m, err := loadChunkMap(s, meta, box)
	if err != nil {
		return err
	}
	mesh := meshChunkMap(m)
	out := c.String("out")
	if err := writeGLB(out, mesh); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s: %d blocks, %d triangles\n", out, m.Len(), mesh.TriangleCount())
	return nil
}

func parseVec3i(s string) (mathx.Vec3i, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mathx.Vec3i{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return mathx.Vec3i{}, fmt.Errorf("component %d of %q: %w", i, s, err)
		}
		v[i] = n
	}
	return mathx.V(v[0], v[1], v[2]), nil
}
