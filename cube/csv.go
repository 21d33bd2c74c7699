package cube

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	csvHeader  = "#Id,NettingSet,DateIndex,Date,Sample,Depth,Value"
	dateLayout = "2006-01-02"
	csvFields  = 7
)

// WriteCSV writes every cell of c, T0 rows first for each id. netting maps
// trade id to netting set id; missing entries are written empty.
func WriteCSV(w io.Writer, c NPVCube, netting map[string]string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, csvHeader)
	asof := c.Asof().Format(dateLayout)
	dates := c.Dates()
	for i, id := range c.IDs() {
		ns := netting[id]
		for d := 0; d < c.Depth(); d++ {
			fmt.Fprintf(bw, "%s,%s,0,%s,0,%d,%s\n", id, ns, asof, d, formatValue(c.GetT0(i, d)))
		}
		for j, date := range dates {
			ds := date.Format(dateLayout)
			for s := 0; s < c.Samples(); s++ {
				for d := 0; d < c.Depth(); d++ {
					fmt.Fprintf(bw, "%s,%s,%d,%s,%d,%d,%s\n", id, ns, j+1, ds, s+1, d, formatValue(c.Get(i, j, s, d)))
				}
			}
		}
	}
	return bw.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSVFile writes the cube to path.
func WriteCSVFile(path string, c NPVCube, netting map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, c, netting); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type csvRow struct {
	line       int
	id         string
	nettingSet string
	dateIndex  int
	date       time.Time
	sample     int
	depth      int
	value      float64
}

func isSeparator(r rune) bool {
	return r == ',' || r == ';' || r == '\t'
}

func parseRow(lineNo int, line string) (csvRow, error) {
	tokens := splitAll(line)
	if len(tokens) != csvFields {
		return csvRow{}, fmt.Errorf("line %d: expected %d fields, got %d", lineNo, csvFields, len(tokens))
	}
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	row := csvRow{line: lineNo, id: tokens[0], nettingSet: tokens[1]}
	var err error
	if row.dateIndex, err = strconv.Atoi(tokens[2]); err != nil || row.dateIndex < 0 {
		return row, fmt.Errorf("line %d: invalid date index %q", lineNo, tokens[2])
	}
	if row.date, err = time.Parse(dateLayout, tokens[3]); err != nil {
		return row, fmt.Errorf("line %d: invalid date %q", lineNo, tokens[3])
	}
	if row.sample, err = strconv.Atoi(tokens[4]); err != nil {
		return row, fmt.Errorf("line %d: invalid sample index %q", lineNo, tokens[4])
	}
	if row.dateIndex > 0 && row.sample <= 0 {
		return row, fmt.Errorf("line %d: sample index must be positive for date index %d", lineNo, row.dateIndex)
	}
	if row.depth, err = strconv.Atoi(tokens[5]); err != nil || row.depth < 0 {
		return row, fmt.Errorf("line %d: invalid depth index %q", lineNo, tokens[5])
	}
	if row.value, err = strconv.ParseFloat(tokens[6], 64); err != nil {
		return row, fmt.Errorf("line %d: invalid value %q", lineNo, tokens[6])
	}
	return row, nil
}

func splitAll(line string) []string {
	var out []string
	start := 0
	for i, r := range line {
		if isSeparator(r) {
			out = append(out, line[start:i])
			start = i + 1
		}
	}
	return append(out, line[start:])
}

func scanRows(r io.Reader, fn func(csvRow) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		row, err := parseRow(lineNo, line)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadCSV reads a cube written by WriteCSV in two passes: the first finds the
// dimensions and validates them, the second fills the cube. It returns the cube
// and the trade id to netting set mapping.
func ReadCSV(r io.ReadSeeker) (*InMemoryCube[float64], map[string]string, error) {
	var (
		asof     time.Time
		haveAsof bool
		netting  = map[string]string{}
		dates    = map[int]time.Time{}
		depths   = map[int]struct{}{}
		samples  int
	)
	err := scanRows(r, func(row csvRow) error {
		if ns, ok := netting[row.id]; ok && ns != row.nettingSet {
			return fmt.Errorf("line %d: trade %s has netting sets %q and %q", row.line, row.id, ns, row.nettingSet)
		}
		netting[row.id] = row.nettingSet
		depths[row.depth] = struct{}{}
		if row.dateIndex == 0 {
			if haveAsof && !asof.Equal(row.date) {
				return fmt.Errorf("line %d: conflicting T0 date %s", row.line, row.date.Format(dateLayout))
			}
			asof, haveAsof = row.date, true
			return nil
		}
		if d, ok := dates[row.dateIndex]; ok && !d.Equal(row.date) {
			return fmt.Errorf("line %d: date index %d maps to %s and %s", row.line, row.dateIndex,
				d.Format(dateLayout), row.date.Format(dateLayout))
		}
		dates[row.dateIndex] = row.date
		if row.sample > samples {
			samples = row.sample
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !haveAsof {
		return nil, nil, errors.New("cube file has no T0 rows")
	}

	grid := make([]time.Time, len(dates))
	for i := range grid {
		d, ok := dates[i+1]
		if !ok {
			return nil, nil, fmt.Errorf("date index %d missing", i+1)
		}
		if i > 0 && !d.After(grid[i-1]) {
			return nil, nil, fmt.Errorf("dates not increasing at date index %d", i+1)
		}
		grid[i] = d
	}
	for d := 0; d < len(depths); d++ {
		if _, ok := depths[d]; !ok {
			return nil, nil, fmt.Errorf("depth index %d missing", d)
		}
	}
	if samples == 0 {
		samples = 1
	}
	ids := make([]string, 0, len(netting))
	for id := range netting {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c, err := New(asof, ids, grid, samples, len(depths))
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	err = scanRows(r, func(row csvRow) error {
		i := c.idIndex[row.id]
		var err error
		if row.dateIndex == 0 {
			err = c.SetT0(row.value, i, row.depth)
		} else {
			err = c.Set(row.value, i, row.dateIndex-1, row.sample-1, row.depth)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", row.line, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return c, netting, nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string) (*InMemoryCube[float64], map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
