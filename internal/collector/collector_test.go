package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexledger/ledgerd/internal/config"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

type fakeCollectorStore struct {
	mu         sync.Mutex
	hashes     map[string]bool
	attempts   []store.CollectorAttempt
	documents  []store.DocumentRecord
	pending    []store.PendingEntry
	heartbeats int
}

func newFakeCollectorStore() *fakeCollectorStore {
	return &fakeCollectorStore{hashes: map[string]bool{}}
}

func (f *fakeCollectorStore) HasContentHash(_ context.Context, contentHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[contentHash], nil
}

func (f *fakeCollectorStore) RecordAttempt(_ context.Context, a *store.CollectorAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	if a.Status == "PARSED" {
		f.hashes[a.ContentHash] = true
	}
	return nil
}

func (f *fakeCollectorStore) InsertDocumentRecord(_ context.Context, d *store.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, *d)
	return nil
}

func (f *fakeCollectorStore) InsertPendingEntry(_ context.Context, p *store.PendingEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, *p)
	return nil
}

func (f *fakeCollectorStore) Heartbeat(_ context.Context, _ string, _ int, _ string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const alipayCSV = "业务流水号,交易时间,交易对方,商品说明,金额\n" +
	"202401010001,2024-01-01 10:00:00,星巴克,咖啡,35.00\n"

const wechatCSV = "交易单号,交易时间,交易对方,商品,金额(元)\n" +
	"wx202401010001,2024-01-02 09:00:00,滴滴出行,网约车,¥58.00\n"

const bankCSV = "date,counterparty,amount,description\n" +
	"2024-01-03,Acme Corp,1200.50,invoice payment\n"

func newTestCollector(t *testing.T, dir string, st Store) *Collector {
	t.Helper()
	cfg := config.CollectorConfig{
		InputDir:        dir,
		Workers:         2,
		QueueSize:       16,
		PerFileTimeoutS: 5,
		GroupWindowS:    60,
		ScanIntervalS:   1,
	}
	return New(st, cfg, testLogger(), func() int64 { return 1000 }, nil)
}

func TestProcessFileParsesAlipayCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "alipay.csv", alipayCSV)
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	require.NoError(t, c.processFile(context.Background(), path))
	require.Len(t, st.pending, 1)
	require.Equal(t, "ALIPAY", st.pending[0].Source)
	require.Equal(t, int64(35_000_000), st.pending[0].AmountMicros)
}

func TestProcessFileParsesWeChatCSVWithCurrencyGlyph(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wechat.csv", wechatCSV)
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	require.NoError(t, c.processFile(context.Background(), path))
	require.Len(t, st.pending, 1)
	require.Equal(t, "WECHAT", st.pending[0].Source)
	require.Equal(t, int64(58_000_000), st.pending[0].AmountMicros)
}

func TestProcessFileParsesGenericBankCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bank.csv", bankCSV)
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	require.NoError(t, c.processFile(context.Background(), path))
	require.Len(t, st.pending, 1)
	require.Equal(t, "BANK", st.pending[0].Source)
	require.Equal(t, "Acme Corp", st.pending[0].Counterparty)
}

func TestProcessFileDeduplicatesByContentHash(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "alipay.csv", alipayCSV)
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	require.NoError(t, c.processFile(context.Background(), path))
	require.NoError(t, c.processFile(context.Background(), path))
	require.Len(t, st.pending, 1, "second pass over an unchanged file must not duplicate the row")
}

func TestProcessFileSoftFailsOnMagicMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "not_really.xlsx", "just plain text, not a zip")
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	err := c.processFile(context.Background(), path)
	require.NoError(t, err, "a bad file must fail soft, never bubble up as a worker error")
	require.Len(t, st.attempts, 1)
	require.Equal(t, "FAILED", st.attempts[0].Status)
	require.Empty(t, st.pending)
}

func TestProcessFileSoftFailsOnUnrecognizedHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mystery.csv", "foo,bar,baz\n1,2,3\n")
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	require.NoError(t, c.processFile(context.Background(), path))
	require.Len(t, st.attempts, 1)
	require.Equal(t, "FAILED", st.attempts[0].Status)
}

func TestRunPicksUpStartupScanAndHeartbeats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alipay.csv", alipayCSV)
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.pending) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestProbeFailsWhenInputDirMissing(t *testing.T) {
	dir := t.TempDir()
	st := newFakeCollectorStore()
	c := newTestCollector(t, dir, st)
	require.NoError(t, c.Probe(context.Background()))

	c.cfg.InputDir = filepath.Join(dir, "does-not-exist")
	require.Error(t, c.Probe(context.Background()))
}
