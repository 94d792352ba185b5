package collector

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ParsedRow is one reconciliation-ready line out of an Alipay, WeChat, or
// generic bank export (spec §4.3: these three sources always become
// pending_entries, never document_records).
type ParsedRow struct {
	Source       string // ALIPAY | WECHAT | BANK
	Counterparty string
	AmountMicros int64
	OccurredAt   int64
	Description  string
}

// columnMap locates the fields a tabular export needs inside its header
// row. Column index lookups are resolved once per file at header-sniff
// time (pipeline step 3) and then reused for every data row.
type columnMap struct {
	source       string
	counterparty int
	amount       int
	occurredAt   int
	description  int
	timeLayout   string
}

// detectColumnMap implements pipeline step 3 ("header sniff -> select
// parser") for the three tabular sources. It returns ok=false if none of
// the registered strategies recognize header.
func detectColumnMap(header []string) (columnMap, bool) {
	switch {
	case findColumn(header, "业务流水号") >= 0:
		return columnMap{
			source:       "ALIPAY",
			counterparty: firstMatch(header, "交易对方", "counterparty"),
			amount:       firstMatch(header, "金额", "amount"),
			occurredAt:   firstMatch(header, "交易时间", "time"),
			description:  firstMatch(header, "商品说明", "description"),
			timeLayout:   "2006-01-02 15:04:05",
		}, true
	case findColumn(header, "交易单号") >= 0:
		return columnMap{
			source:       "WECHAT",
			counterparty: firstMatch(header, "交易对方", "counterparty"),
			amount:       firstMatch(header, "金额(元)", "金额", "amount"),
			occurredAt:   firstMatch(header, "交易时间", "time"),
			description:  firstMatch(header, "商品", "description"),
			timeLayout:   "2006-01-02 15:04:05",
		}, true
	default:
		cp := firstMatch(header, "counterparty", "vendor", "对方", "payee")
		amt := firstMatch(header, "amount", "金额")
		occ := firstMatch(header, "date", "日期", "time")
		if cp < 0 || amt < 0 || occ < 0 {
			return columnMap{}, false
		}
		return columnMap{
			source:       "BANK",
			counterparty: cp,
			amount:       amt,
			occurredAt:   occ,
			description:  firstMatch(header, "description", "备注", "memo"),
			timeLayout:   "2006-01-02",
		}, true
	}
}

// findColumn returns the index of the header cell matching name
// (case-insensitive, trimmed), or -1.
func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// firstMatch returns the index of the first header cell matching any of
// names, or -1 if none match.
func firstMatch(header []string, names ...string) int {
	for _, n := range names {
		if idx := findColumn(header, n); idx >= 0 {
			return idx
		}
	}
	return -1
}

// parseCSVRows streams a CSV export row by row (pipeline step 4:
// "streaming parse (generator) to bound memory"): the header is consumed
// to build the columnMap, then every subsequent record is normalized and
// sent on rows without the whole file ever sitting fully parsed in memory.
func parseCSVRows(text string, rows chan<- ParsedRow) error {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("collector: read csv header: %w", err)
	}
	cm, ok := detectColumnMap(header)
	if !ok {
		return errNoParserMatched
	}

	n := 0
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		row, err := buildRow(cm, record)
		if err != nil {
			continue // one malformed line never aborts the whole file
		}
		rows <- row
		n++
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

// parseXLSXRows mirrors parseCSVRows for the XLSX branch: the worksheet is
// already fully decoded to a [][]string by readXLSXRows (see xlsx.go), so
// this only applies the same column mapping and row-by-row normalization.
func parseXLSXRows(grid [][]string, rows chan<- ParsedRow) error {
	if len(grid) == 0 {
		return errNoRows
	}
	cm, ok := detectColumnMap(grid[0])
	if !ok {
		return errNoParserMatched
	}

	n := 0
	for _, record := range grid[1:] {
		row, err := buildRow(cm, record)
		if err != nil {
			continue
		}
		rows <- row
		n++
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

func buildRow(cm columnMap, record []string) (ParsedRow, error) {
	if cm.counterparty >= len(record) || cm.amount >= len(record) || cm.occurredAt >= len(record) {
		return ParsedRow{}, fmt.Errorf("collector: record shorter than mapped columns")
	}

	amountMicros, err := normalizeAmountMicros(record[cm.amount])
	if err != nil {
		return ParsedRow{}, err
	}

	occurredAt, err := parseOccurredAt(record[cm.occurredAt], cm.timeLayout)
	if err != nil {
		return ParsedRow{}, err
	}

	var description string
	if cm.description >= 0 && cm.description < len(record) {
		description = strings.TrimSpace(record[cm.description])
	}

	return ParsedRow{
		Source:       cm.source,
		Counterparty: strings.TrimSpace(record[cm.counterparty]),
		AmountMicros: amountMicros,
		OccurredAt:   occurredAt,
		Description:  description,
	}, nil
}

func parseOccurredAt(raw, layout string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(layout, raw); err == nil {
		return t.UnixMilli(), nil
	}
	// fall back to a bare epoch-millis column, some bank exports already
	// normalize their own timestamp column this way.
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return millis, nil
	}
	return 0, fmt.Errorf("collector: unrecognized timestamp %q", raw)
}
