package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardview/internal/safetensors"
)

func (a *app) getCmd() *cli.Command {
	var (
		modelPath  string
		tensorName string
		count      int
	)

	return &cli.Command{
		Name:  "get",
		Usage: "Print the leading values and summary statistics of one tensor",
		Flags: []cli.Flag{
			modelFlag(&modelPath),
			&cli.StringFlag{Name: "tensor", Aliases: []string{"t"}, Usage: "tensor name", Required: true, Destination: &tensorName},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "number of values to print", Value: 16, Destination: &count},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			set, err := a.openModel(modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			t, f, err := set.Find(tensorName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			vals, err := widen(f, t)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			a.log.Debug("read tensor", "tensor", t.Name, "shard", f.Path(), "elements", len(vals))
			return writeValues(a.stdout, t, f.Path(), vals, count)
		},
	}
}

// widen converts t to float32. F16 has no bulk conversion in the reader so
// it is widened element by element through a view.
func widen(f *safetensors.File, t *safetensors.Tensor) ([]float32, error) {
	if t.DType != safetensors.F16 {
		return f.Float32s(t)
	}
	v, err := f.F16(t)
	if err != nil {
		return nil, err
	}
	out := make([]float32, v.Len())
	for i := range out {
		out[i] = v.Float32At(i)
	}
	return out, nil
}

type summary struct {
	min, max, mean float64
	nonFinite      int
}

// summarize skips NaN and infinite values. With no finite values min, max
// and mean are NaN.
func summarize(vals []float32) summary {
	s := summary{min: math.Inf(1), max: math.Inf(-1)}
	var sum float64
	finite := 0
	for _, v := range vals {
		x := float64(v)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			s.nonFinite++
			continue
		}
		finite++
		sum += x
		s.min = min(s.min, x)
		s.max = max(s.max, x)
	}
	if finite == 0 {
		return summary{min: math.NaN(), max: math.NaN(), mean: math.NaN(), nonFinite: s.nonFinite}
	}
	s.mean = sum / float64(finite)
	return s
}

func writeValues(w io.Writer, t *safetensors.Tensor, shard string, vals []float32, count int) error {
	if _, err := fmt.Fprintf(w, "%s\nshard: %s\n", t, shard); err != nil {
		return err
	}
	n := len(vals)
	if count >= 0 && count < n {
		n = count
	}
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%g", vals[i])
	}
	more := ""
	if n < len(vals) {
		more = fmt.Sprintf(" ... (%d more)", len(vals)-n)
	}
	if _, err := fmt.Fprintf(w, "values: [%s]%s\n", strings.Join(parts, ", "), more); err != nil {
		return err
	}
	s := summarize(vals)
	_, err := fmt.Fprintf(w, "min=%g max=%g mean=%g non_finite=%d\n", s.min, s.max, s.mean, s.nonFinite)
	return err
}
