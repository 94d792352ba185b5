package collector

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixtureSharedStrings = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="2" uniqueCount="2">
<si><t>date</t></si><si><t>counterparty</t></si>
</sst>`

const fixtureSheet = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
<sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c><c r="C1" t="s"><v>1</v></c></row>
<row r="2"><c r="A2"><v>2024-01-03</v></c><c r="B2"><v>Acme Corp</v></c><c r="C2"><v>1200.50</v></c></row>
</sheetData>
</worksheet>`

func buildFixtureXLSX(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("xl/sharedStrings.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(fixtureSharedStrings))
	require.NoError(t, err)

	w, err = zw.Create("xl/worksheets/sheet1.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(fixtureSheet))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReadXLSXRowsResolvesSharedStrings(t *testing.T) {
	raw := buildFixtureXLSX(t)
	rows, err := readXLSXRows(raw)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"date", "counterparty"}, rows[0][:2])
	require.Equal(t, "Acme Corp", rows[1][1])
}

func TestColumnIndexParsesLetters(t *testing.T) {
	require.Equal(t, 0, columnIndex("A1"))
	require.Equal(t, 2, columnIndex("C7"))
	require.Equal(t, 26, columnIndex("AA3"))
}
