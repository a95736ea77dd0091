package drivemaps

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/DMoenks/group-policy-drive-maps/logger"
)

const changedLayout = "2006-01-02 15:04:05"

// CompileOptions selects the entry mode and console reporting behavior.
type CompileOptions struct {
	// Replace compiles Replace-mode entries (remove then recreate on the
	// client) instead of Update-mode entries.
	Replace bool
	// Progress shows a console progress bar over the row set.
	Progress bool
}

// RowOutcome is the per-row validity report. Row numbering matches the
// workbook: the first data row is row 2.
type RowOutcome struct {
	Row     int
	Letter  string
	Emitted bool
	Reason  string
}

// Report collects everything a run wants to tell the operator afterwards:
// which rows made it, which were skipped, and which filter tokens were
// dropped without a directory match.
type Report struct {
	Outcomes []RowOutcome
	Dropped  []DroppedToken
	Emitted  int
	Skipped  int
}

// Compile turns the mapping rows into an ordered preference document. Rows
// are processed strictly in input order; a row missing its path or letter is
// skipped and reported, never fatal. The only error condition is a failed
// directory call during filter resolution.
func Compile(rows []MappingRow, opts CompileOptions, resolver Resolver) (*Drives, *Report, error) {
	doc := &Drives{Clsid: DrivesClsid}
	report := &Report{}

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("Compiling drive mappings"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(opts.Progress && progressVisible()),
		progressbar.OptionFullWidth(),
	)

	for i, row := range rows {
		rowNum := i + 2 // row 1 holds the headers
		path := strings.TrimSpace(row.Path)
		letter := strings.TrimSpace(row.Letter)

		if path == "" || letter == "" {
			logger.Warnf("Row %d skipped: missing path or letter", rowNum)
			report.Outcomes = append(report.Outcomes, RowOutcome{
				Row:    rowNum,
				Letter: strings.ToUpper(letter),
				Reason: "missing path or letter",
			})
			report.Skipped++
			_ = bar.Add(1)
			continue
		}

		path = strings.ToLower(path)
		letter = strings.ToUpper(letter)

		entry := Drive{
			Clsid:        DriveClsid,
			Name:         letter + ":",
			Status:       letter + ":",
			Changed:      time.Now().UTC().Format(changedLayout),
			UID:          newUID(),
			UserContext:  "1",
			BypassErrors: "1",
			Properties: Properties{
				ThisDrive: "SHOW",
				AllDrives: "NOCHANGE",
				Path:      path,
				UseLetter: "1",
				Letter:    letter,
			},
		}
		if opts.Replace {
			entry.Image = 1
			entry.RemovePolicy = "1"
			entry.Properties.Action = "R"
			entry.Properties.Persistent = "1"
		} else {
			entry.Image = 2
			entry.Properties.Action = "U"
			entry.Properties.Persistent = "0"
		}
		if label := strings.TrimSpace(row.Label); label != "" {
			entry.Properties.Label = label
		}

		groups, orgUnits, dropped, err := ResolveFilters(row.FilterExpression, resolver)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range dropped {
			d.Row = rowNum
			logger.Warnf("Row %d: no directory match for %s %q, filter dropped", rowNum, d.Kind, d.Token)
			report.Dropped = append(report.Dropped, d)
		}
		if len(groups) > 0 || len(orgUnits) > 0 {
			entry.Filters = &Filters{Groups: groups, OrgUnits: orgUnits}
		}

		doc.Entries = append(doc.Entries, entry)
		report.Outcomes = append(report.Outcomes, RowOutcome{Row: rowNum, Letter: letter, Emitted: true})
		report.Emitted++
		logger.Debugf("Row %d compiled: %s -> %s", rowNum, letter, path)
		_ = bar.Add(1)
	}

	return doc, report, nil
}

func newUID() string {
	return "{" + strings.ToUpper(uuid.New().String()) + "}"
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("DRIVEMAPS_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
