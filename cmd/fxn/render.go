package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/common-nighthawk/go-figure"
	"github.com/dustin/go-humanize"
	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/fxnlabs/function-compute/internal/server"
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

func printBanner(title string) {
	myFigure := figure.NewFigure(title, "", true)
	myFigure.Print()
	fmt.Println("")
}

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func bytesOrNA(n int64) string {
	if n <= 0 {
		return "N/A"
	}
	return humanize.Bytes(uint64(n))
}

func adaptersTable(adapters []gpu.Adapter) string {
	table := newTable("#", "Name", "Type", "Backend", "Memory", "Available", "Driver")
	for i, a := range adapters {
		info := a.Info()
		table.Row(
			fmt.Sprint(i),
			info.Name,
			info.Type.String(),
			info.Backend,
			bytesOrNA(info.TotalMemory),
			bytesOrNA(info.AvailableMemory),
			info.DriverVersion,
		)
	}
	return table.String()
}

func resultsTable(results []benchResult) string {
	table := newTable("Shape", "Autotune key", "Winner", "Median", "First call", "GFLOP/s")
	for _, r := range results {
		flops := 2 * float64(r.shape.M) * float64(r.shape.K) * float64(r.shape.N)
		gflops := "-"
		if r.median > 0 {
			gflops = fmt.Sprintf("%.2f", flops/r.median.Seconds()/1e9)
		}
		table.Row(
			r.shape.String(),
			r.key,
			r.variant,
			r.median.String(),
			r.elapsed.Round(time.Microsecond).String(),
			gflops,
		)
	}
	return table.String()
}

func memoryTable(u server.MemoryUsage) string {
	table := newTable("Chunks", "Live handles", "Reserved", "In use", "Storage allocated")
	table.Row(
		humanize.Comma(int64(u.Chunks)),
		humanize.Comma(int64(u.Bindings)),
		humanize.Bytes(uint64(u.Reserved)),
		humanize.Bytes(uint64(u.InUse)),
		humanize.Bytes(uint64(u.Storage.Allocated)),
	)
	return table.String()
}
