package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"pricewatch/models"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements Repository over either a *sql.DB or a *sql.Tx.
type repo struct {
	q querier
	d dialect
}

// Store is a database-backed Repository. Operations on a Store run in autocommit mode;
// use Begin or InTx for batched writes.
type Store struct {
	repo
	db *sql.DB
}

// Tx is a Repository bound to one open transaction.
type Tx struct {
	repo
	tx *sql.Tx
}

func newStore(db *sql.DB, d dialect) *Store {
	return &Store{repo: repo{q: db, d: d}, db: db}
}

// Dialect reports the backend name ("postgres" or "sqlite").
func (s *Store) Dialect() string {
	return s.d.name
}

// Migrate creates all tables and indexes if they do not exist.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(s.d.schema)
	return eris.Wrapf(err, "%s: migrate", s.d.name)
}

// Begin opens a transaction. The caller owns Commit/Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: begin", s.d.name)
	}
	return &Tx{repo: repo{q: tx, d: s.d}, tx: tx}, nil
}

// InTx runs fn in a single transaction, committing only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (t *Tx) Commit() error {
	return eris.Wrapf(t.tx.Commit(), "%s: commit", t.d.name)
}

// Rollback aborts the transaction. Rolling back a finished transaction is not an error.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return eris.Wrapf(err, "%s: rollback", t.d.name)
}

// ErrSavepoint marks a failure to create, roll back or release a savepoint. The
// enclosing transaction is unusable after it.
var ErrSavepoint = errors.New("savepoint failed")

// WithSavepoint runs fn inside a named savepoint of t. When fn fails its writes are
// rolled back and fn's error is returned; the rest of the transaction stays intact.
func (t *Tx) WithSavepoint(ctx context.Context, name string, fn func(Repository) error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return eris.Wrapf(errors.Join(ErrSavepoint, err), "%s: savepoint %s", t.d.name, name)
	}

	ferr := fn(t)
	if ferr != nil {
		if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return eris.Wrapf(errors.Join(ErrSavepoint, err, ferr), "%s: rollback to savepoint %s", t.d.name, name)
		}
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return eris.Wrapf(errors.Join(ErrSavepoint, err), "%s: release savepoint %s", t.d.name, name)
	}
	return ferr
}

// Isolate runs fn inside a savepoint when repo supports one, and directly otherwise.
func Isolate(ctx context.Context, repo Repository, name string, fn func(Repository) error) error {
	if sp, ok := repo.(Savepointer); ok {
		return sp.WithSavepoint(ctx, name, fn)
	}
	return fn(repo)
}

// --- Products ---

const productColumns = `id, website, product_link, raw_name, normalized_name, category, brand, language,
	price, stock_status, stock_amount, first_seen_at, last_scraped_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.CompetitorProduct, error) {
	var (
		p                         models.CompetitorProduct
		identity, category, brand sql.NullString
		amount                    sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Website, &p.ProductLink, &p.RawName, &identity, &category, &brand,
		&p.Language, &p.Price, &p.StockStatus, &amount, &p.FirstSeenAt, &p.LastScrapedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.NormalizedName = nullString(identity)
	p.Category = nullString(category)
	p.Brand = nullString(brand)
	p.StockAmount = nullInt(amount)
	return &p, nil
}

func (r repo) GetProduct(ctx context.Context, id int64) (*models.CompetitorProduct, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+productColumns+` FROM competitor_products WHERE id = ?`), id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "%s: get product %d", r.d.name, id)
}

func (r repo) GetProductByLink(ctx context.Context, website, productLink string) (*models.CompetitorProduct, error) {
	row := r.q.QueryRowContext(ctx,
		r.d.rebind(`SELECT `+productColumns+` FROM competitor_products WHERE website = ? AND product_link = ?`),
		website, productLink,
	)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "%s: get product by link %s", r.d.name, productLink)
}

func (r repo) InsertProduct(ctx context.Context, p *models.CompetitorProduct) error {
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		INSERT INTO competitor_products (website, product_link, raw_name, normalized_name, category, brand,
			language, price, stock_status, stock_amount, first_seen_at, last_scraped_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		p.Website, p.ProductLink, p.RawName, p.NormalizedName, p.Category, p.Brand,
		p.Language, p.Price, p.StockStatus, p.StockAmount, p.FirstSeenAt, p.LastScrapedAt, p.UpdatedAt,
	).Scan(&p.ID)
	return eris.Wrapf(err, "%s: insert product %s", r.d.name, p.ProductLink)
}

func (r repo) UpdateProduct(ctx context.Context, p *models.CompetitorProduct) error {
	res, err := r.q.ExecContext(ctx, r.d.rebind(`
		UPDATE competitor_products
		SET raw_name = ?, normalized_name = ?, category = ?, brand = ?, language = ?, price = ?,
			stock_status = ?, stock_amount = ?, last_scraped_at = ?, updated_at = ?
		WHERE id = ?`),
		p.RawName, p.NormalizedName, p.Category, p.Brand, p.Language, p.Price,
		p.StockStatus, p.StockAmount, p.LastScrapedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: update product %d", r.d.name, p.ID)
	}
	return checkRowsAffected(res, "product", p.ID)
}

// DeleteProduct removes a product and everything it owns.
func (r repo) DeleteProduct(ctx context.Context, id int64) error {
	for _, table := range []string{"competitor_product_daily", "competitor_product_snapshots", "competitor_price_history"} {
		if _, err := r.q.ExecContext(ctx, r.d.rebind(`DELETE FROM `+table+` WHERE product_id = ?`), id); err != nil {
			return eris.Wrapf(err, "%s: delete %s for product %d", r.d.name, table, id)
		}
	}
	res, err := r.q.ExecContext(ctx, r.d.rebind(`DELETE FROM competitor_products WHERE id = ?`), id)
	if err != nil {
		return eris.Wrapf(err, "%s: delete product %d", r.d.name, id)
	}
	return checkRowsAffected(res, "product", id)
}

func (r repo) ListProducts(ctx context.Context, f ProductFilter) ([]models.CompetitorProduct, error) {
	query := `SELECT ` + productColumns + ` FROM competitor_products WHERE 1=1`
	var args []any

	if f.Website != nil {
		query += ` AND website = ?`
		args = append(args, *f.Website)
	}
	if f.NormalizedName != nil {
		query += ` AND normalized_name = ?`
		args = append(args, *f.NormalizedName)
	}
	if f.Category != nil {
		query += ` AND category = ?`
		args = append(args, *f.Category)
	}
	if f.Brand != nil {
		query += ` AND brand = ?`
		args = append(args, *f.Brand)
	}
	if f.OnlyMissing {
		query += ` AND (normalized_name IS NULL OR category IS NULL OR brand IS NULL)`
	}
	if f.ScrapedBefore != nil {
		query += ` AND last_scraped_at < ?`
		args = append(args, f.ScrapedBefore.UTC())
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list products", r.d.name)
	}
	defer rows.Close()

	var products []models.CompetitorProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan product", r.d.name)
		}
		products = append(products, *p)
	}
	return products, eris.Wrapf(rows.Err(), "%s: list products iterate", r.d.name)
}

// DistinctIdentities returns known identities, most recently scraped first.
func (r repo) DistinctIdentities(ctx context.Context, f IdentityFilter) ([]string, error) {
	query := `SELECT normalized_name, MAX(last_scraped_at) AS seen FROM competitor_products
		WHERE normalized_name IS NOT NULL AND normalized_name <> ''`
	var args []any

	if f.Website != nil {
		query += ` AND website = ?`
		args = append(args, *f.Website)
	}
	if f.Category != nil {
		query += ` AND category = ?`
		args = append(args, *f.Category)
	}
	query += ` GROUP BY normalized_name ORDER BY seen DESC, normalized_name`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: distinct identities", r.d.name)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var (
			name string
			seen any
		)
		if err := rows.Scan(&name, &seen); err != nil {
			return nil, eris.Wrapf(err, "%s: scan identity", r.d.name)
		}
		identities = append(identities, name)
	}
	return identities, eris.Wrapf(rows.Err(), "%s: distinct identities iterate", r.d.name)
}

// --- Daily rows ---

const dailyColumns = `id, product_id, day, price, stock_status, stock_amount, scraped_at`

func scanDaily(row rowScanner) (*models.CompetitorProductDaily, error) {
	var (
		d      models.CompetitorProductDaily
		amount sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.ProductID, &d.Day, &d.Price, &d.StockStatus, &amount, &d.ScrapedAt); err != nil {
		return nil, err
	}
	d.StockAmount = nullInt(amount)
	return &d, nil
}

func (r repo) GetDaily(ctx context.Context, productID int64, day string) (*models.CompetitorProductDaily, error) {
	row := r.q.QueryRowContext(ctx,
		r.d.rebind(`SELECT `+dailyColumns+` FROM competitor_product_daily WHERE product_id = ? AND day = ?`),
		productID, day,
	)
	d, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, eris.Wrapf(err, "%s: get daily %d/%s", r.d.name, productID, day)
}

func (r repo) LatestDaily(ctx context.Context, productID int64) (*models.CompetitorProductDaily, error) {
	row := r.q.QueryRowContext(ctx,
		r.d.rebind(`SELECT `+dailyColumns+` FROM competitor_product_daily WHERE product_id = ? ORDER BY day DESC LIMIT 1`),
		productID,
	)
	d, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, eris.Wrapf(err, "%s: latest daily %d", r.d.name, productID)
}

// ListDaily returns a product's daily rows from sinceDay (inclusive, "" for all), oldest first.
func (r repo) ListDaily(ctx context.Context, productID int64, sinceDay string) ([]models.CompetitorProductDaily, error) {
	rows, err := r.q.QueryContext(ctx,
		r.d.rebind(`SELECT `+dailyColumns+` FROM competitor_product_daily WHERE product_id = ? AND day >= ? ORDER BY day`),
		productID, sinceDay,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list daily %d", r.d.name, productID)
	}
	defer rows.Close()

	var out []models.CompetitorProductDaily
	for rows.Next() {
		d, err := scanDaily(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan daily", r.d.name)
		}
		out = append(out, *d)
	}
	return out, eris.Wrapf(rows.Err(), "%s: list daily iterate", r.d.name)
}

func (r repo) InsertDaily(ctx context.Context, d *models.CompetitorProductDaily) error {
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		INSERT INTO competitor_product_daily (product_id, day, price, stock_status, stock_amount, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		d.ProductID, d.Day, d.Price, d.StockStatus, d.StockAmount, d.ScrapedAt,
	).Scan(&d.ID)
	return eris.Wrapf(err, "%s: insert daily %d/%s", r.d.name, d.ProductID, d.Day)
}

func (r repo) UpdateDaily(ctx context.Context, d *models.CompetitorProductDaily) error {
	res, err := r.q.ExecContext(ctx, r.d.rebind(`
		UPDATE competitor_product_daily SET price = ?, stock_status = ?, stock_amount = ?, scraped_at = ?
		WHERE id = ?`),
		d.Price, d.StockStatus, d.StockAmount, d.ScrapedAt, d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: update daily %d", r.d.name, d.ID)
	}
	return checkRowsAffected(res, "daily", d.ID)
}

// --- Append-only tiers ---

func (r repo) InsertSnapshot(ctx context.Context, s *models.CompetitorProductSnapshot) error {
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		INSERT INTO competitor_product_snapshots (product_id, price, stock_status, stock_amount, scraped_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		s.ProductID, s.Price, s.StockStatus, s.StockAmount, s.ScrapedAt,
	).Scan(&s.ID)
	return eris.Wrapf(err, "%s: insert snapshot for product %d", r.d.name, s.ProductID)
}

func (r repo) ListSnapshots(ctx context.Context, productID int64) ([]models.CompetitorProductSnapshot, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT id, product_id, price, stock_status, stock_amount, scraped_at
		FROM competitor_product_snapshots WHERE product_id = ? ORDER BY id`),
		productID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list snapshots %d", r.d.name, productID)
	}
	defer rows.Close()

	var out []models.CompetitorProductSnapshot
	for rows.Next() {
		var (
			s      models.CompetitorProductSnapshot
			amount sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Price, &s.StockStatus, &amount, &s.ScrapedAt); err != nil {
			return nil, eris.Wrapf(err, "%s: scan snapshot", r.d.name)
		}
		s.StockAmount = nullInt(amount)
		out = append(out, s)
	}
	return out, eris.Wrapf(rows.Err(), "%s: list snapshots iterate", r.d.name)
}

func (r repo) InsertPriceHistory(ctx context.Context, h *models.CompetitorPriceHistory) error {
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		INSERT INTO competitor_price_history (product_id, price, stock_status, stock_amount, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		h.ProductID, h.Price, h.StockStatus, h.StockAmount, h.RecordedAt,
	).Scan(&h.ID)
	return eris.Wrapf(err, "%s: insert price history for product %d", r.d.name, h.ProductID)
}

// ListPriceHistory returns points recorded at or after f.Since, in insertion order.
func (r repo) ListPriceHistory(ctx context.Context, f HistoryFilter) ([]models.CompetitorPriceHistory, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT id, product_id, price, stock_status, stock_amount, recorded_at
		FROM competitor_price_history WHERE product_id = ? AND recorded_at >= ? ORDER BY id`),
		f.ProductID, f.Since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list price history %d", r.d.name, f.ProductID)
	}
	defer rows.Close()

	var out []models.CompetitorPriceHistory
	for rows.Next() {
		var (
			h      models.CompetitorPriceHistory
			amount sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Price, &h.StockStatus, &amount, &h.RecordedAt); err != nil {
			return nil, eris.Wrapf(err, "%s: scan price history", r.d.name)
		}
		h.StockAmount = nullInt(amount)
		out = append(out, h)
	}
	return out, eris.Wrapf(rows.Err(), "%s: list price history iterate", r.d.name)
}

// --- Overrides ---

const overrideColumns = `id, normalized_name, category, website, set_category, set_brand, set_language,
	notes, created_at, updated_at`

func scanOverride(row rowScanner) (*models.CompetitorProductOverride, error) {
	var (
		o                                         models.CompetitorProductOverride
		category, website, setCat, setBrand, lang sql.NullString
	)
	err := row.Scan(&o.ID, &o.NormalizedName, &category, &website, &setCat, &setBrand, &lang,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Category = nullString(category)
	o.Website = nullString(website)
	o.SetCategory = nullString(setCat)
	o.SetBrand = nullString(setBrand)
	o.SetLanguage = nullString(lang)
	return &o, nil
}

// FindOverrides returns overrides for the identity whose category equals category
// (nil matching only unscoped rows) and whose website equals website (nil = global rows).
// Rows come back most recently updated first.
func (r repo) FindOverrides(ctx context.Context, normalizedName string, category, website *string) ([]models.CompetitorProductOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM competitor_product_overrides WHERE normalized_name = ?`
	args := []any{normalizedName}

	if category == nil {
		query += ` AND category IS NULL`
	} else {
		query += ` AND category = ?`
		args = append(args, *category)
	}
	if website == nil {
		query += ` AND website IS NULL`
	} else {
		query += ` AND website = ?`
		args = append(args, *website)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	return r.queryOverrides(ctx, query, args...)
}

func (r repo) ListOverrides(ctx context.Context) ([]models.CompetitorProductOverride, error) {
	return r.queryOverrides(ctx, `SELECT `+overrideColumns+` FROM competitor_product_overrides ORDER BY normalized_name, id`)
}

func (r repo) queryOverrides(ctx context.Context, query string, args ...any) ([]models.CompetitorProductOverride, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: query overrides", r.d.name)
	}
	defer rows.Close()

	var out []models.CompetitorProductOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan override", r.d.name)
		}
		out = append(out, *o)
	}
	return out, eris.Wrapf(rows.Err(), "%s: query overrides iterate", r.d.name)
}

func (r repo) InsertOverride(ctx context.Context, o *models.CompetitorProductOverride) error {
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		INSERT INTO competitor_product_overrides (normalized_name, category, website, set_category, set_brand,
			set_language, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		o.NormalizedName, o.Category, o.Website, o.SetCategory, o.SetBrand,
		o.SetLanguage, o.Notes, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	return eris.Wrapf(err, "%s: insert override for %q", r.d.name, o.NormalizedName)
}

func (r repo) DeleteOverride(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, r.d.rebind(`DELETE FROM competitor_product_overrides WHERE id = ?`), id)
	if err != nil {
		return eris.Wrapf(err, "%s: delete override %d", r.d.name, id)
	}
	return checkRowsAffected(res, "override", id)
}

// --- helpers ---

// ErrNotFound is returned by updates and deletes that matched no row.
var ErrNotFound = errors.New("storage: not found")

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "storage: rows affected for %s %d", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
