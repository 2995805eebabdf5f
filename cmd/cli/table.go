package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

// renderMetrics renders name/value pairs with the values right-aligned.
func renderMetrics(title string, metrics [][2]string) string {
	tw := newTable(title)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	for _, m := range metrics {
		tw.AppendRow(table.Row{m[0], m[1]})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// renderOutputs lists model outputs by name and marks the one used as scores.
func renderOutputs(shapes map[string][]int, scoreKey string) string {
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := newTable("Model outputs")
	tw.AppendHeader(table.Row{"Output", "Shape", "Role"})
	for _, name := range names {
		role := ""
		if name == scoreKey {
			role = "scores"
		}
		tw.AppendRow(table.Row{name, formatShape(shapes[name]), role})
	}
	return tw.Render()
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
