package dataset

import (
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Validator enforces the dataset contract on an export file.
type Validator struct {
	MinRows  int
	MinBytes int64
}

// Validate reads the first column of the first sheet (header row skipped) and checks
// the size and row thresholds. Codes are trimmed, upper-cased and de-duplicated.
func (v Validator) Validate(path string) (*Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	if info.Size() < v.MinBytes {
		return nil, fmt.Errorf("%w: file is %d bytes, want at least %d", ErrInvalidDataset, info.Size(), v.MinBytes)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", ErrInvalidDataset, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidDataset)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read rows: %v", ErrInvalidDataset, err)
	}

	seen := make(map[string]struct{})
	codes := make([]string, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(row[0]))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	if len(codes) == 0 || len(codes) < v.MinRows {
		return nil, fmt.Errorf("%w: %d codes, want at least %d", ErrInvalidDataset, len(codes), v.MinRows)
	}

	d := newDataset(codes)
	d.Path = path
	d.Size = info.Size()
	d.AcquiredAt = info.ModTime()
	return d, nil
}
