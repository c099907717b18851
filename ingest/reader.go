package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"pricewatch/models"
)

// ReadFile decodes scraped rows from the CSV file at path.
func ReadFile(path string) ([]models.ScrapedItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %q", path)
	}
	defer f.Close()
	return ReadItems(f)
}

// ReadItems decodes scraped rows from CSV with a header line. Recognised columns:
// website, product_link, name, price, stock_status, stock_amount. Unknown columns are ignored.
func ReadItems(r io.Reader) ([]models.ScrapedItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "ingest: read header")
	}

	var items []models.ScrapedItem
	for {
		var item models.ScrapedItem
		err := dec.Decode(&item)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: decode row %d", len(items)+2)
		}
		items = append(items, item)
	}
	return items, nil
}

// NormalizeLink reduces a product URL to a stable key: scheme://host/path with the host
// lower-cased, no query or fragment and no trailing slash. Unparsable links are returned trimmed.
func NormalizeLink(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
