package locate

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// confusionGrid adapts an Evaluation to plotter.GridXYZ. Rows are actual
// rooms, listed top to bottom.
type confusionGrid struct {
	eval *Evaluation
}

func (g confusionGrid) Dims() (c, r int) {
	return len(g.eval.Rooms), len(g.eval.Rooms)
}

func (g confusionGrid) Z(c, r int) float64 {
	return float64(g.eval.Confusion[len(g.eval.Rooms)-1-r][c])
}

func (g confusionGrid) X(c int) float64 {
	return float64(c)
}

func (g confusionGrid) Y(r int) float64 {
	return float64(r)
}

// ConfusionPlot builds a heatmap of the confusion matrix
func ConfusionPlot(eval *Evaluation) (*plot.Plot, error) {
	if len(eval.Rooms) == 0 {
		return nil, fmt.Errorf("evaluation has no rooms")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Room confusion (accuracy %.1f%%)", eval.Accuracy*100)
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	maxCount := 1
	for _, row := range eval.Confusion {
		for _, n := range row {
			if n > maxCount {
				maxCount = n
			}
		}
	}

	h := plotter.NewHeatMap(confusionGrid{eval: eval}, palette.Heat(12, 1))
	h.Min = 0
	h.Max = float64(maxCount)
	p.Add(h)

	actual := make([]string, len(eval.Rooms))
	for i, r := range eval.Rooms {
		actual[len(eval.Rooms)-1-i] = r
	}
	p.NominalX(eval.Rooms...)
	p.NominalY(actual...)
	return p, nil
}

// SaveConfusionPlot writes the confusion heatmap to an image file. The
// format follows the file extension.
func SaveConfusionPlot(eval *Evaluation, path string) error {
	p, err := ConfusionPlot(eval)
	if err != nil {
		return err
	}
	size := vg.Length(len(eval.Rooms)+2) * vg.Inch
	if size < 4*vg.Inch {
		size = 4 * vg.Inch
	}
	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("saving confusion plot: %w", err)
	}
	return nil
}
