package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/servicetracker/internal/common"
)

// BatchHeader is the column layout of exported and imported batch files.
var BatchHeader = []string{"ID", "Timestamp", "Student", "Service", "Duration", "Event", "Score", "Goal_ID", "Device_ID", "Reported"}

// minBatchColumns is id through score.
const minBatchColumns = 7

// Batch is a parsed batch file.
type Batch struct {
	Rows []RawRow
	// Rejected counts data rows with fewer than minBatchColumns cells.
	Rejected int
}

// ParseBatch reads a delimited batch file. The first row is a header and is
// skipped; id and reported columns are ignored. A file that is not valid CSV
// or whose header is too short fails with common.ErrMalformedBatch.
func ParseBatch(r io.Reader) (Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Batch{}, fmt.Errorf("%w: empty file", common.ErrMalformedBatch)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", common.ErrMalformedBatch, err)
	}
	if len(header) < minBatchColumns {
		return Batch{}, fmt.Errorf("%w: header has %d columns, want at least %d", common.ErrMalformedBatch, len(header), minBatchColumns)
	}

	var b Batch
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("%w: %v", common.ErrMalformedBatch, err)
		}
		if len(cells) < minBatchColumns {
			b.Rejected++
			continue
		}
		b.Rows = append(b.Rows, RowFromCells(cells[1:]))
	}
	return b, nil
}

// WriteBatch writes recs in the batch layout, header first.
func WriteBatch(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BatchHeader); err != nil {
		return err
	}
	for _, r := range recs {
		reported := "0"
		if r.Reported {
			reported = "1"
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.Timestamp,
			r.Student,
			r.Service,
			FormatNumber(r.Duration),
			r.Event,
			FormatNumber(r.Score),
			r.GoalID,
			r.DeviceID,
			reported,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
