// Command tdbcore is an operator-facing inspector: it describes a
// schema, lists the fragments under an array's storage root, and runs
// a read-only query against them, printing a summary to stdout. It
// mirrors the teacher's cmd/main.go convert/convert-trawl command pair
// (github.com/urfave/cli/v2), but this core has no write path to
// convert into — every subcommand here only reads.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/obslog"
	"github.com/sixy6e/tdbcore/query"
	"github.com/sixy6e/tdbcore/schema"
	"github.com/sixy6e/tdbcore/vfs"
)

func readSchema(ctx context.Context, fs vfs.FS, path string) (*schema.Schema, error) {
	stream, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	return schema.Deserialize(raw)
}

func describeSchema(cCtx *cli.Context) error {
	fs := vfs.NewLocal()
	sch, err := readSchema(cCtx.Context, fs, cCtx.String("schema"))
	if err != nil {
		return err
	}

	kind := "sparse"
	if sch.Dense {
		kind = "dense"
	}
	fmt.Printf("schema %q (%s, cell_order=%s, tile_order=%s)\n", sch.Name, kind, sch.CellOrder, sch.TileOrder)

	fmt.Println("dimensions:")
	for _, d := range sch.Dimensions() {
		if d.HasTileExtent {
			fmt.Printf("  %-20s %-10s [%v, %v] tile=%d\n", d.Name, d.DType, d.Lo.AsFloat(d.DType), d.Hi.AsFloat(d.DType), d.TileExtent)
		} else {
			fmt.Printf("  %-20s %-10s [%v, %v]\n", d.Name, d.DType, d.Lo.AsFloat(d.DType), d.Hi.AsFloat(d.DType))
		}
	}

	fmt.Println("attributes:")
	for _, a := range sch.Attributes() {
		if a.IsVar() {
			fmt.Printf("  %-20s %-10s var, offset width %s\n", a.Name, a.DType, humanize.Bytes(uint64(a.CellSize())))
		} else {
			fmt.Printf("  %-20s %-10s %d value(s)/cell, %s/cell\n", a.Name, a.DType, a.ValuesPerCell, humanize.Bytes(uint64(a.CellSize())))
		}
	}
	return nil
}

func listFragments(cCtx *cli.Context) error {
	fs := vfs.NewLocal()
	sch, err := readSchema(cCtx.Context, fs, cCtx.String("schema"))
	if err != nil {
		return err
	}

	manifest, err := fragment.OpenAll(cCtx.Context, fs, cCtx.String("root"), sch)
	if err != nil {
		return err
	}
	defer manifest.Close()

	fmt.Printf("%d fragment(s) under %s\n", len(manifest.Views), cCtx.String("root"))
	for _, v := range manifest.Views {
		kind := "sparse"
		if v.Dense {
			kind = "dense"
		}
		fmt.Printf("  id=%-4d %-6s cells=%-10d size=%s bbox_lo=%v bbox_hi=%v\n",
			v.ID, kind, v.NCells, humanize.Bytes(uint64(fragmentBytes(v))), v.BBox.LoInts(), v.BBox.HiInts())
	}
	return nil
}

// fragmentBytes approximates a fragment's materialized footprint for
// the CLI's size column; it is a diagnostic total, not a persisted
// on-disk size (this core does not implement tile compression, spec
// §1), so it only sums the attribute buffers actually held in memory.
func fragmentBytes(v *fragment.View) int64 {
	var n int64
	for _, a := range v.Attrs {
		n += int64(len(a.Fixed)) + int64(len(a.Offsets))*8 + int64(len(a.Values))
	}
	for _, c := range v.Coords {
		n += int64(len(c)) * 8
	}
	return n
}

func parseInts(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseMode(s string) (query.Mode, error) {
	switch s {
	case "", "sorted_row":
		return query.ModeSortedRow, nil
	case "sorted_col":
		return query.ModeSortedCol, nil
	case "global":
		return query.ModeGlobal, nil
	default:
		return 0, fmt.Errorf("unknown read mode %q", s)
	}
}

func runRead(cCtx *cli.Context) error {
	fs := vfs.NewLocal()
	sch, err := readSchema(cCtx.Context, fs, cCtx.String("schema"))
	if err != nil {
		return err
	}

	lo, err := parseInts(cCtx.String("lo"))
	if err != nil {
		return err
	}
	hi, err := parseInts(cCtx.String("hi"))
	if err != nil {
		return err
	}
	if lo == nil || hi == nil {
		dims := sch.Dimensions()
		lo = make([]int64, len(dims))
		hi = make([]int64, len(dims))
		for i, d := range dims {
			lo[i], hi[i] = d.Lo.I, d.Hi.I
		}
	}
	sub := domain.BoxFromInts(lo, hi)

	mode, err := parseMode(cCtx.String("mode"))
	if err != nil {
		return err
	}

	attrs := sch.AttributeNames()
	if raw := cCtx.String("attrs"); raw != "" {
		attrs = strings.Split(raw, ",")
	}

	manifest, err := fragment.OpenAll(cCtx.Context, fs, cCtx.String("root"), sch)
	if err != nil {
		return err
	}
	defer manifest.Close()

	fragments := manifest.Overlapping(sub)
	q, err := query.New(sch, fragments, sub, attrs, mode, nil)
	if err != nil {
		return err
	}
	defer q.Close()

	const cellsPerCall = 8192
	bufs, err := query.NewAttrBuffers(sch, attrs, cellsPerCall, 1<<20)
	if err != nil {
		return err
	}

	var totalCells int64
	attrBytes := make(map[string]int64, len(attrs))
	for {
		res, err := q.Read(bufs)
		if err != nil {
			return err
		}
		for _, name := range attrs {
			attrBytes[name] += int64(res.FixedBytes[name]) + int64(res.ValuesBytes[name]) + int64(res.OffsetsBytes[name])
		}
		if fb, ok := res.FixedBytes[attrs[0]]; ok {
			if attr, aerr := sch.Attribute(mustAttrID(sch, attrs[0])); aerr == nil && !attr.IsVar() && attr.CellSize() > 0 {
				totalCells += int64(fb) / int64(attr.CellSize())
			}
		}
		if query.StatusOf(res) == query.StatusCompleted {
			break
		}
	}

	fmt.Printf("read %d fragment(s) over %d cell(s) in %s mode\n", len(fragments), totalCells, mode)
	for _, name := range attrs {
		fmt.Printf("  %-20s %s\n", name, humanize.Bytes(uint64(attrBytes[name])))
	}
	return nil
}

func mustAttrID(sch *schema.Schema, name string) int {
	id, err := sch.AttributeID(name)
	if err != nil {
		return -1
	}
	return id
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	obslog.SetLogger(logger.Sugar())

	app := &cli.App{
		Name:  "tdbcore",
		Usage: "inspect and read a directory of fragments backing one array",
		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "schema-related commands",
				Subcommands: []*cli.Command{
					{
						Name:  "describe",
						Usage: "print a schema's dimensions and attributes",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "schema", Required: true, Usage: "path to a serialized schema"},
						},
						Action: describeSchema,
					},
				},
			},
			{
				Name:  "fragment",
				Usage: "fragment-related commands",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list the committed fragments under an array root",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "root", Required: true, Usage: "array storage root directory"},
							&cli.StringFlag{Name: "schema", Required: true, Usage: "path to the array's serialized schema"},
						},
						Action: listFragments,
					},
				},
			},
			{
				Name:  "read",
				Usage: "run a read query over an array's fragments and print a summary",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Required: true, Usage: "array storage root directory"},
					&cli.StringFlag{Name: "schema", Required: true, Usage: "path to the array's serialized schema"},
					&cli.StringFlag{Name: "attrs", Usage: "comma-separated attribute names (default: all)"},
					&cli.StringFlag{Name: "mode", Usage: "sorted_row (default), sorted_col, or global"},
					&cli.StringFlag{Name: "lo", Usage: "comma-separated subarray low coordinates (default: whole domain)"},
					&cli.StringFlag{Name: "hi", Usage: "comma-separated subarray high coordinates (default: whole domain)"},
				},
				Action: runRead,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
