package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardview/internal/safetensors"
)

type tensorReport struct {
	Name     string  `json:"name"`
	DType    string  `json:"dtype"`
	Shape    []int64 `json:"shape"`
	Elements int64   `json:"elements"`
	Offset   uint64  `json:"offset"`
	Size     uint64  `json:"size"`
}

type shardReport struct {
	Path       string         `json:"path"`
	Size       uint64         `json:"size"`
	HeaderSize uint64         `json:"header_size"`
	Truncated  bool           `json:"truncated,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tensors    []tensorReport `json:"tensors"`
}

type inspectReport struct {
	Dir     string        `json:"dir"`
	Tensors int           `json:"tensors"`
	Shards  []shardReport `json:"shards"`
}

type inspectOptions struct {
	filter   string
	limit    int
	metadata bool
}

// keep reports whether t passes the filter. n counts tensors already shown.
func (o inspectOptions) keep(t *safetensors.Tensor, n int) bool {
	if o.limit > 0 && n >= o.limit {
		return false
	}
	return o.filter == "" || strings.Contains(t.Name, o.filter)
}

func (a *app) inspectCmd() *cli.Command {
	var (
		modelPath string
		asJSON    bool
		opts      inspectOptions
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the tensors of a safetensors model directory",
		Flags: []cli.Flag{
			modelFlag(&modelPath),
			&cli.BoolFlag{Name: "json", Usage: "print a JSON report", Destination: &asJSON},
			&cli.StringFlag{Name: "filter", Usage: "substring filter for tensor names", Destination: &opts.filter},
			&cli.IntFlag{Name: "limit", Usage: "limit tensor listing (0 = no limit)", Destination: &opts.limit},
			&cli.BoolFlag{Name: "metadata", Usage: "show each shard's __metadata__", Destination: &opts.metadata},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			set, err := a.openModel(modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			if asJSON {
				return writeInspectJSON(a.stdout, set, opts)
			}
			if opts.filter == "" && opts.limit == 0 && !opts.metadata {
				return set.Dump(a.stdout)
			}
			return writeInspectText(a.stdout, set, opts)
		},
	}
}

func writeInspectText(w io.Writer, set *safetensors.Set, opts inspectOptions) error {
	shown := 0
	for _, f := range set.Shards() {
		if _, err := fmt.Fprintf(w, "File: %s (%d tensors)\n", f.Path(), f.NumTensors()); err != nil {
			return err
		}
		if opts.metadata {
			if err := writeMetadata(w, f.MetadataJSON()); err != nil {
				return err
			}
		}
		for i := range f.Tensors() {
			t := &f.Tensors()[i]
			if !opts.keep(t, shown) {
				continue
			}
			shown++
			if _, err := fmt.Fprintf(w, "  %s\n", t); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeMetadata prints the __metadata__ object as sorted key=value lines,
// or the raw text when it is not an object.
func writeMetadata(w io.Writer, raw []byte) error {
	if raw == nil {
		return nil
	}
	m, err := decodeMetadata(raw)
	if err != nil {
		_, err := fmt.Fprintf(w, "  __metadata__: %s\n", raw)
		return err
	}
	if _, err := fmt.Fprintln(w, "  __metadata__:"); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "    %s=%v\n", k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeInspectJSON(w io.Writer, set *safetensors.Set, opts inspectOptions) error {
	report := inspectReport{Dir: set.Dir(), Tensors: set.NumTensors()}
	shown := 0
	for _, f := range set.Shards() {
		sr := shardReport{
			Path:       f.Path(),
			Size:       f.Size(),
			HeaderSize: f.HeaderSize(),
			Truncated:  f.Truncated(),
			Tensors:    []tensorReport{},
		}
		if opts.metadata && f.MetadataJSON() != nil {
			if m, err := decodeMetadata(f.MetadataJSON()); err == nil {
				sr.Metadata = m
			}
		}
		for i := range f.Tensors() {
			t := &f.Tensors()[i]
			if !opts.keep(t, shown) {
				continue
			}
			shown++
			shape := t.Shape
			if shape == nil {
				shape = []int64{}
			}
			sr.Tensors = append(sr.Tensors, tensorReport{
				Name:     t.Name,
				DType:    t.DType.String(),
				Shape:    shape,
				Elements: t.NumElements(),
				Offset:   t.Offset,
				Size:     t.Size,
			})
		}
		report.Shards = append(report.Shards, sr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
