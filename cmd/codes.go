package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/tagdeck/host/internal/errors"
	"github.com/tagdeck/host/internal/storage"
)

// CodesConfig holds the configuration for the codes commands.
type CodesConfig struct {
	DBPath string
	Strict bool
}

func runCodesImport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("codes import", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &CodesConfig{}
	fs.StringVar(&cfg.DBPath, "db", "", "Path to the host database (default: ~/.tagdeck/tagdeck.db)")
	fs.BoolVar(&cfg.Strict, "strict", false, "Fail on the first malformed row instead of skipping it")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck codes import [options] <file.csv>\n\nLoad Konami catalog id to passcode mappings from a CSV file.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe CSV columns are: konami_id,passcode. A header row is detected\nand skipped. Mappings resolve tags that carry only a catalog id.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one CSV file is required")
		fs.Usage()
		return 1
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	entries, skipped, err := parseCodesCSV(f, cfg.Strict, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintf(stderr, "Error: no usable mappings in %s\n", path)
		return 1
	}

	store, err := openCardStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	imported, err := store.ImportCodes(entries)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if skipped > 0 {
		fmt.Fprintf(stdout, "Imported %d mapping(s), skipped %d malformed row(s).\n", imported, skipped)
	} else {
		fmt.Fprintf(stdout, "Imported %d mapping(s).\n", imported)
	}

	if total, err := store.CountCodes(); err == nil {
		fmt.Fprintf(stdout, "Passcode map now holds %d mapping(s).\n", total)
	}
	return 0
}

// parseCodesCSV reads konami_id,passcode rows. A header row is detected
// by its non-numeric fields and skipped. In strict mode the first
// malformed row aborts the import; otherwise it is reported and skipped.
func parseCodesCSV(r io.Reader, strict bool, stderr io.Writer) ([]storage.CodeEntry, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []storage.CodeEntry
	var skipped int
	line := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			if strict {
				return nil, 0, apperrors.Wrap(apperrors.CodeCodesParseFailed,
					fmt.Sprintf("line %d did not parse", line), err)
			}
			fmt.Fprintf(stderr, "Warning: line %d: %v\n", line, err)
			skipped++
			continue
		}

		entry, err := parseCodeRow(row)
		if err != nil {
			if line == 1 && !rowLooksNumeric(row) {
				// Header row.
				continue
			}
			if strict {
				return nil, 0, apperrors.Wrap(apperrors.CodeCodesParseFailed,
					fmt.Sprintf("line %d did not parse", line), err)
			}
			fmt.Fprintf(stderr, "Warning: line %d: %v\n", line, err)
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped, nil
}

// parseCodeRow validates one CSV row into a mapping entry. Both fields
// are numeric strings of at most 8 digits, the field widths the tag
// frame carries.
func parseCodeRow(row []string) (storage.CodeEntry, error) {
	if len(row) < 2 {
		return storage.CodeEntry{}, fmt.Errorf("want 2 columns (konami_id,passcode), got %d", len(row))
	}

	konamiID := strings.TrimSpace(row[0])
	passcode := strings.TrimSpace(row[1])

	if !isDigits(konamiID) || len(konamiID) > 8 {
		return storage.CodeEntry{}, fmt.Errorf("konami id %q must be numeric, at most 8 digits", konamiID)
	}
	if !isDigits(passcode) || len(passcode) > 8 {
		return storage.CodeEntry{}, fmt.Errorf("passcode %q must be numeric, at most 8 digits", passcode)
	}

	return storage.CodeEntry{KonamiID: konamiID, Passcode: passcode}, nil
}

// rowLooksNumeric reports whether the first two fields are numeric,
// distinguishing data rows from a header.
func rowLooksNumeric(row []string) bool {
	if len(row) < 2 {
		return false
	}
	return isDigits(strings.TrimSpace(row[0])) && isDigits(strings.TrimSpace(row[1]))
}

// isDigits reports whether s is non-empty ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
