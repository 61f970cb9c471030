// Package report scores a labeling run against ground truth: per-state
// Dice coefficients and a full confusion matrix, rendered as text or as
// an ECharts heatmap for visual inspection.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/chestlab-data/airway.report/internal/airway"
)

// Comparison accumulates agreement between ground-truth and inferred
// labels over one particle set.
type Comparison struct {
	// Confusion counts particles per (truth, inferred) state pair.
	Confusion [airway.NumStates][airway.NumStates]int
}

// Compare tallies truth against inferred labels. The slices must be the
// same length and indexed identically.
func Compare(truth, inferred []airway.Generation) (*Comparison, error) {
	if len(truth) != len(inferred) {
		return nil, fmt.Errorf("label slices differ in length: %d vs %d", len(truth), len(inferred))
	}
	c := &Comparison{}
	for i := range truth {
		c.Confusion[truth[i]][inferred[i]]++
	}
	return c, nil
}

// Dice returns the Dice score for one state: twice the agreement count
// over the summed truth and inferred supports. States absent from both
// labelings return ok=false, since 0/0 carries no information.
func (c *Comparison) Dice(state airway.Generation) (score float64, ok bool) {
	var truthCount, inferredCount int
	for _, s := range airway.States() {
		truthCount += c.Confusion[state][s]
		inferredCount += c.Confusion[s][state]
	}
	denom := truthCount + inferredCount
	if denom == 0 {
		return 0, false
	}
	return 2 * float64(c.Confusion[state][state]) / float64(denom), true
}

// WriteText renders Dice scores and the confusion matrix as plain text,
// matching what operators eyeball after a run.
func (c *Comparison) WriteText(w io.Writer) error {
	var buf bytes.Buffer

	for _, s := range airway.States() {
		if score, ok := c.Dice(s); ok {
			fmt.Fprintf(&buf, "Dice for %s:\t%.4f\n", s, score)
		}
	}

	buf.WriteString("----------------- Confusion Matrix -----------------------\n")
	fmt.Fprintf(&buf, "%-18s", "truth \\ inferred")
	for _, s := range airway.States() {
		fmt.Fprintf(&buf, "%8s", shortName(s))
	}
	buf.WriteByte('\n')
	for _, from := range airway.States() {
		fmt.Fprintf(&buf, "%-18s", shortName(from))
		for _, to := range airway.States() {
			fmt.Fprintf(&buf, "%8d", c.Confusion[from][to])
		}
		buf.WriteByte('\n')
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteHeatmapHTML renders the confusion matrix as a standalone ECharts
// heatmap page.
func (c *Comparison) WriteHeatmapHTML(w io.Writer) error {
	states := airway.States()
	axis := make([]string, len(states))
	maxCount := 0
	data := make([]opts.HeatMapData, 0, len(states)*len(states))
	for i, from := range states {
		axis[i] = shortName(from)
		for j, to := range states {
			count := c.Confusion[from][to]
			if count > maxCount {
				maxCount = count
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{j, i, count}})
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Generation Labeling Confusion", Width: "760px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Generation labeling confusion matrix", Subtitle: "rows = ground truth, columns = inferred"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "inferred"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "truth", Data: axis}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCount),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	hm.SetXAxis(axis).AddSeries("confusion", data)

	return hm.Render(w)
}

// WriteHeatmapFile writes the heatmap page to disk.
func (c *Comparison) WriteHeatmapFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := c.WriteHeatmapHTML(f); err != nil {
		return fmt.Errorf("render heatmap: %w", err)
	}
	return f.Close()
}

// shortName compacts state names for matrix headers: G0..G10 and Undef.
func shortName(s airway.Generation) string {
	if s == airway.GenUndefined {
		return "Undef"
	}
	return strings.Replace(s.String(), "AirwayGeneration", "G", 1)
}
