package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// OCRResult is what an invoice/receipt image parser needs out of an OCR
// pass: enough to populate a DocumentRecord.
type OCRResult struct {
	Vendor       string
	AmountMicros int64
	OccurredAt   int64
}

// OCREngine is the interface to the external OCR implementation (spec §1
// Non-goals: "concrete OCR ... implementations" are out of scope; only
// their interface to the core is specified here). An installation wires a
// concrete engine at startup; collector itself only depends on this shape.
type OCREngine interface {
	Extract(ctx context.Context, path string, raw []byte) (OCRResult, error)
}

// HTTPOCREngine calls a configured OCR service over HTTP, the same external
// collaborator shape internal/egress uses for its reasoning backend. The
// response is an ad hoc JSON object; fields are pulled out with gjson
// rather than a generated struct since the exact schema is owned by
// whichever OCR service an installation points this at.
type HTTPOCREngine struct {
	Client   *http.Client
	Endpoint string
}

func NewHTTPOCREngine(endpoint string, timeout time.Duration) *HTTPOCREngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOCREngine{Client: &http.Client{Timeout: timeout}, Endpoint: endpoint}
}

func (e *HTTPOCREngine) Extract(ctx context.Context, path string, raw []byte) (OCRResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return OCRResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.Client.Do(req)
	if err != nil {
		return OCRResult{}, fmt.Errorf("collector: ocr request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OCRResult{}, err
	}
	if resp.StatusCode >= 300 {
		return OCRResult{}, fmt.Errorf("collector: ocr service returned %d for %s", resp.StatusCode, path)
	}

	parsed := gjson.ParseBytes(body)
	vendor := parsed.Get("vendor").String()
	if vendor == "" {
		return OCRResult{}, fmt.Errorf("collector: ocr response for %s had no vendor field", path)
	}
	amountMicros, err := normalizeAmountMicros(parsed.Get("amount").String())
	if err != nil {
		return OCRResult{}, err
	}
	occurredAt := parsed.Get("occurred_at_millis").Int()

	return OCRResult{Vendor: vendor, AmountMicros: amountMicros, OccurredAt: occurredAt}, nil
}
