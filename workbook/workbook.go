// Package workbook reads mapping rows from the Excel source of truth.
package workbook

import (
	"fmt"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/xuri/excelize/v2"

	"github.com/DMoenks/group-policy-drive-maps/drivemaps"
	"github.com/DMoenks/group-policy-drive-maps/logger"
)

const columnCount = 4

// Read loads the mapping table from the named sheet. The first row is the
// header and is skipped; reading stops at the first row whose path column is
// empty, matching how the table is maintained by hand.
func Read(path, sheet string) ([]drivemaps.MappingRow, error) {
	sniff(path)

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open workbook %s: %w", path, err)
	}
	defer file.Close()

	cells, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("could not read sheet %s of %s: %w", sheet, path, err)
	}

	var rows []drivemaps.MappingRow
	for i, row := range cells {
		if i == 0 {
			continue
		}
		row = pad(row, columnCount)
		if strings.TrimSpace(row[0]) == "" {
			logger.Debugf("Stopping at row %d of sheet %s, path column is empty", i+1, sheet)
			break
		}
		rows = append(rows, drivemaps.MappingRow{
			Path:             row[0],
			Letter:           row[1],
			Label:            row[2],
			FilterExpression: row[3],
		})
	}
	logger.Infof("Read %d mapping rows from %s", len(rows), path)
	return rows, nil
}

// sniff warns when the file's magic bytes do not look like an Office
// document. Excelize produces its own error for unreadable files, the sniff
// just makes a renamed CSV or legacy .xls obvious in the log.
func sniff(path string) {
	head := make([]byte, 261)
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()
	n, _ := file.Read(head)
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		logger.Warnf("Could not determine the file type of %s", path)
		return
	}
	if kind.Extension != "xlsx" && kind.Extension != "zip" {
		logger.Warnf("File %s looks like %s, not an Excel workbook", path, kind.Extension)
	}
}

func pad(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}
