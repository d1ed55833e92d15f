// Package dataset reads static cell-tower datasets from CSV, zstd-compressed
// CSV and XLSX files.
//
// The header row selects columns by name, case-insensitively. Both the
// compact layout (MCC, MNC, LAC, CELLID, PSC, RAT, LAT, LON) and the
// OpenCelliD export layout (radio, mcc, net, area, cell, unit, lon, lat) are
// understood. Only lat and lon are required; rows whose coordinates are
// missing or out of range are skipped and counted.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// ErrNoCoordinates is returned when the header has no lat or lon column.
var ErrNoCoordinates = errors.New("dataset: header has no lat/lon columns")

// Result is a parsed dataset.
type Result struct {
	Towers  []domain.Tower
	Skipped int
}

// Load reads a dataset, picking the format from the file extension:
// .csv, .csv.zst (or .zst) and .xlsx.
func Load(path string) (*Result, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".xlsx"):
		return ReadXLSX(path, "")
	case strings.HasSuffix(name, ".zst"):
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec, err := zstd.NewReader(bufio.NewReaderSize(f, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		return ReadCSV(dec)
	case strings.HasSuffix(name, ".csv"):
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(bufio.NewReaderSize(f, 1<<20))
	default:
		return nil, fmt.Errorf("dataset: unsupported file type %q", filepath.Ext(name))
	}
}

// ReadCSV parses a CSV dataset with a header row.
func ReadCSV(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(res.Towers)+res.Skipped+2, err)
		}
		res.add(cols, record)
	}
	return res, nil
}

// ReadXLSX parses the given sheet of a workbook, or the first sheet when
// sheet is empty.
func ReadXLSX(path, sheet string) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheet)
	}

	cols, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, row := range rows[1:] {
		res.add(cols, row)
	}
	return res, nil
}

type columns struct {
	id, lat, lon, mcc, mnc, lac, cell, psc, rat int
}

var aliases = map[string][]string{
	"id":   {"id"},
	"lat":  {"lat", "latitude"},
	"lon":  {"lon", "lng", "longitude"},
	"mcc":  {"mcc"},
	"mnc":  {"mnc", "net"},
	"lac":  {"lac", "area", "tac"},
	"cell": {"cellid", "cell_id", "cell", "ci"},
	"psc":  {"psc", "unit", "pci"},
	"rat":  {"rat", "radio"},
}

func mapColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	find := func(field string) int {
		for _, name := range aliases[field] {
			if i, ok := index[name]; ok {
				return i
			}
		}
		return -1
	}

	c := columns{
		id:   find("id"),
		lat:  find("lat"),
		lon:  find("lon"),
		mcc:  find("mcc"),
		mnc:  find("mnc"),
		lac:  find("lac"),
		cell: find("cell"),
		psc:  find("psc"),
		rat:  find("rat"),
	}
	if c.lat < 0 || c.lon < 0 {
		return c, ErrNoCoordinates
	}
	return c, nil
}

func (res *Result) add(c columns, row []string) {
	lat, err1 := parseCoord(field(row, c.lat))
	lon, err2 := parseCoord(field(row, c.lon))
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		res.Skipped++
		return
	}

	t := domain.Tower{
		Location: domain.GeoPoint{Lat: lat, Lon: lon},
		MCC:      parseInt(field(row, c.mcc)),
		MNC:      parseInt(field(row, c.mnc)),
		LAC:      parseInt(field(row, c.lac)),
		CellID:   parseInt(field(row, c.cell)),
		PSC:      parseInt(field(row, c.psc)),
		RAT:      strings.ToUpper(strings.TrimSpace(field(row, c.rat))),
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(field(row, c.id)), 10, 64); err == nil && id > 0 {
		t.ID = id
	}
	res.Towers = append(res.Towers, t)
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// parseCoord accepts both "43.26" and "43,26".
func parseCoord(val string) (float64, error) {
	val = strings.TrimSpace(strings.ReplaceAll(val, ",", "."))
	if val == "" {
		return 0, fmt.Errorf("empty")
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite coordinate %q", val)
	}
	return v, nil
}

func parseInt(val string) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0
	}
	return n
}
