package storage

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"pricewatch/models"
)

var historyHeader = []string{
	"website", "product_link", "normalized_name", "price", "stock_status", "stock_amount", "recorded_at",
}

// CSVWriter exports price-history points as CSV, one row per point with prices in
// minor units. Safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	out    *csv.Writer
	rows   int
}

// NewCSVWriter truncates the file at path (creating parent directories) and writes the header.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, eris.Wrap(err, "csv: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: create file %q", path)
	}
	w, err := NewCSVStreamWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewCSVStreamWriter writes the export to an arbitrary stream. Close does not close w.
func NewCSVStreamWriter(w io.Writer) (*CSVWriter, error) {
	out := csv.NewWriter(w)
	if err := out.Write(historyHeader); err != nil {
		return nil, eris.Wrap(err, "csv: write header")
	}
	return &CSVWriter{out: out}, nil
}

func (c *CSVWriter) WriteHistory(p *models.CompetitorProduct, points []models.CompetitorPriceHistory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range points {
		amount := ""
		if h.StockAmount != nil {
			amount = strconv.Itoa(*h.StockAmount)
		}
		if err := c.out.Write([]string{
			p.Website,
			p.ProductLink,
			models.Deref(p.NormalizedName),
			strconv.FormatInt(h.Price, 10),
			h.StockStatus,
			amount,
			h.RecordedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
		c.rows++
	}
	c.out.Flush()
	return eris.Wrap(c.out.Error(), "csv: flush")
}

// Rows reports how many data rows have been written.
func (c *CSVWriter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.out.Flush()
	if err := c.out.Error(); err != nil {
		return eris.Wrap(err, "csv: flush")
	}
	if c.closer == nil {
		return nil
	}
	return eris.Wrap(c.closer.Close(), "csv: close")
}
