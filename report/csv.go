package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nvr-ai/marine-detect/inference"
)

// CSVHeader is the first row written by WriteCSV.
var CSVHeader = []string{
	"model", "id", "class", "confidence",
	"center_x", "center_y", "width", "height",
	"original_width", "original_height",
}

// WriteCSV writes one row per detection of each result, preceded by
// CSVHeader.
func WriteCSV(w io.Writer, results ...*inference.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		ow, oh := strconv.Itoa(r.OriginalWidth), strconv.Itoa(r.OriginalHeight)
		for _, d := range r.Detections {
			row := []string{
				string(r.Model),
				strconv.Itoa(d.ID),
				d.Class,
				formatFloat(d.Confidence),
				formatFloat(d.Box.CenterX),
				formatFloat(d.Box.CenterY),
				formatFloat(d.Box.Width),
				formatFloat(d.Box.Height),
				ow,
				oh,
			}
			if err := cw.Write(row); err != nil {
				return errors.Wrap(err, "write csv row")
			}
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 6, 32)
}
