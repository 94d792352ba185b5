package collector

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// No XLSX library appears anywhere in the reference corpus (see DESIGN.md),
// so the generic bank parser's XLSX branch reads the handful of parts a
// row/column grid actually needs — shared strings and the first worksheet —
// directly off the OOXML zip container via the standard library instead of
// adopting an unrelated dependency for one file format.

type sharedStrings struct {
	XMLName xml.Name `xml:"sst"`
	Items   []struct {
		Text string `xml:"t"`
	} `xml:"si"`
}

type sheetXML struct {
	XMLName xml.Name   `xml:"worksheet"`
	Rows    []sheetRow `xml:"sheetData>row"`
}

type sheetRow struct {
	Cells []sheetCell `xml:"c"`
}

type sheetCell struct {
	Ref   string `xml:"r,attr"`
	Type  string `xml:"t,attr"`
	Value string `xml:"v"`
}

// readXLSXRows extracts the first worksheet of an .xlsx file as a grid of
// display strings, resolving shared-string cell references.
func readXLSXRows(raw []byte) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("collector: not a valid xlsx container: %w", err)
	}

	var strs []string
	if f := findZipFile(zr, "xl/sharedStrings.xml"); f != nil {
		var parsed sharedStrings
		if err := decodeZipXML(f, &parsed); err != nil {
			return nil, err
		}
		for _, item := range parsed.Items {
			strs = append(strs, item.Text)
		}
	}

	sheetFile := findZipFile(zr, "xl/worksheets/sheet1.xml")
	if sheetFile == nil {
		return nil, fmt.Errorf("collector: xlsx has no xl/worksheets/sheet1.xml")
	}
	var sheet sheetXML
	if err := decodeZipXML(sheetFile, &sheet); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make(map[int]string, len(row.Cells))
		maxCol := -1
		for _, c := range row.Cells {
			col := columnIndex(c.Ref)
			if col > maxCol {
				maxCol = col
			}
			cells[col] = resolveCellValue(c, strs)
		}
		out := make([]string, maxCol+1)
		for col, val := range cells {
			out[col] = val
		}
		rows = append(rows, out)
	}
	return rows, nil
}

func resolveCellValue(c sheetCell, strs []string) string {
	if c.Type == "s" {
		idx, err := strconv.Atoi(c.Value)
		if err == nil && idx >= 0 && idx < len(strs) {
			return strs[idx]
		}
	}
	return c.Value
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func decodeZipXML(f *zip.File, v interface{}) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, v)
}

// columnIndex converts a cell reference like "C7" to a zero-based column
// index (A=0, B=1, ..., AA=26, ...).
func columnIndex(ref string) int {
	letters := strings.TrimRightFunc(ref, func(r rune) bool { return r >= '0' && r <= '9' })
	idx := 0
	for _, r := range letters {
		idx = idx*26 + int(r-'A'+1)
	}
	return idx - 1
}
