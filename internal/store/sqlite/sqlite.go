package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tokoku/internal/domain"
	"tokoku/internal/store"
	"tokoku/internal/xid"
)

// timeLayout is fixed width so text comparison on stored timestamps matches
// chronological order.
const timeLayout = "2006-01-02 15:04:05.000000000"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Store struct {
	db *sqlx.DB
}

// New opens (creating if needed) the database file at path and applies any
// pending migrations. The connection pool is pinned to one connection so
// every transaction is serialised by the driver.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type productRow struct {
	ID          string `db:"id"`
	Number      string `db:"number"`
	Name        string `db:"name"`
	Price       string `db:"price"`
	Description string `db:"description"`
	Category    string `db:"category"`
	StockQty    int    `db:"stock_qty"`
	Active      bool   `db:"active"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r productRow) toDomain() (domain.Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s price: %w", r.ID, err)
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:          r.ID,
		Number:      r.Number,
		Name:        r.Name,
		Price:       price,
		Description: r.Description,
		Category:    r.Category,
		StockQty:    r.StockQty,
		Active:      r.Active,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func fromProduct(p domain.Product) productRow {
	return productRow{
		ID:          p.ID,
		Number:      p.Number,
		Name:        p.Name,
		Price:       p.Price.StringFixed(2),
		Description: p.Description,
		Category:    p.Category,
		StockQty:    p.StockQty,
		Active:      p.Active,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

type saleRow struct {
	ID          string `db:"id"`
	ProductID   string `db:"product_id"`
	ProductName string `db:"product_name"`
	Quantity    int    `db:"quantity"`
	UnitPrice   string `db:"unit_price"`
	TotalPrice  string `db:"total_price"`
	SoldAt      string `db:"sold_at"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r saleRow) toDomain() (domain.Sale, error) {
	unit, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s unit price: %w", r.ID, err)
	}
	total, err := decimal.NewFromString(r.TotalPrice)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s total price: %w", r.ID, err)
	}
	soldAt, err := parseTime(r.SoldAt)
	if err != nil {
		return domain.Sale{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	return domain.Sale{
		ID:          r.ID,
		ProductID:   r.ProductID,
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		UnitPrice:   unit,
		TotalPrice:  total,
		SoldAt:      soldAt,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func fromSale(sale domain.Sale) saleRow {
	return saleRow{
		ID:          sale.ID,
		ProductID:   sale.ProductID,
		ProductName: sale.ProductName,
		Quantity:    sale.Quantity,
		UnitPrice:   sale.UnitPrice.StringFixed(2),
		TotalPrice:  sale.TotalPrice.StringFixed(2),
		SoldAt:      formatTime(sale.SoldAt),
		CreatedAt:   formatTime(sale.CreatedAt),
		UpdatedAt:   formatTime(sale.UpdatedAt),
	}
}

const productColumns = `id, number, name, price, description, category, stock_qty, active, created_at, updated_at`

const saleColumns = `id, product_id, product_name, quantity, unit_price, total_price, sold_at, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY category, name`

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return productsFromRows(rows)
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"

	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = 1
			AND (lower(number) LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\')
		ORDER BY category, name
	`, pattern, pattern)
	if err != nil {
		return nil, err
	}
	return productsFromRows(rows)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, `id`, id)
}

func (s *Store) GetProductByNumber(ctx context.Context, number string) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, `number`, number)
}

func (s *Store) getProduct(ctx context.Context, q sqlx.QueryerContext, column string, value string) (*domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+productColumns+` FROM products WHERE `+column+` = ?`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now()
	}
	product.CreatedAt = normalizeTime(product.CreatedAt)
	product.UpdatedAt = product.CreatedAt
	product.Active = true
	product.Price = product.Price.Round(2)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :number, :name, :price, :description, :category, :stock_qty, :active, :created_at, :updated_at)
	`, fromProduct(product))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateNumber
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, price = ?, description = ?, category = ?, updated_at = ?
		WHERE id = ?
	`, product.Name, product.Price.StringFixed(2), product.Description, product.Category, formatTime(time.Now()), product.ID)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) SetProductActive(ctx context.Context, id string, active bool, at time.Time) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET active = ?, updated_at = ? WHERE id = ?
	`, active, formatTime(at), id)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int, at time.Time) (*domain.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := s.getProduct(ctx, tx, `id`, id)
	if err != nil {
		return nil, err
	}
	if product.StockQty+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	product.StockQty += delta
	product.UpdatedAt = normalizeTime(at)
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET stock_qty = ?, updated_at = ? WHERE id = ?
	`, product.StockQty, formatTime(product.UpdatedAt), id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) CompleteSale(ctx context.Context, sale domain.Sale) (*domain.Sale, *domain.Product, error) {
	if sale.ProductID == "" || sale.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := s.getProduct(ctx, tx, `id`, sale.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if !product.Active {
		return nil, nil, store.ErrInactiveProduct
	}
	if sale.Quantity > product.StockQty {
		return nil, nil, store.ErrInsufficientStock
	}

	now := normalizeTime(time.Now())
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = now
	}
	sale.SoldAt = normalizeTime(sale.SoldAt)
	sale.ProductName = product.Name
	sale.UnitPrice = product.Price
	sale.TotalPrice = product.Price.Mul(decimal.NewFromInt(int64(sale.Quantity)))
	sale.CreatedAt = now
	sale.UpdatedAt = now

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (:id, :product_id, :product_name, :quantity, :unit_price, :total_price, :sold_at, :created_at, :updated_at)
	`, fromSale(sale)); err != nil {
		return nil, nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty - ?, updated_at = ?
		WHERE id = ? AND stock_qty >= ?
	`, sale.Quantity, formatTime(now), product.ID, sale.Quantity)
	if err != nil {
		return nil, nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, nil, err
	} else if affected == 0 {
		return nil, nil, store.ErrInsufficientStock
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	product.StockQty -= sale.Quantity
	product.UpdatedAt = now
	return &sale, product, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var row saleRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	where, args := rangeClause("sold_at", from, to)

	var rows []saleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+saleColumns+` FROM sales`+where+` ORDER BY sold_at DESC, id DESC
	`, args...); err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sale, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string, restock bool) (*domain.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row saleRow
	if err := tx.GetContext(ctx, &row, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if restock {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_qty = stock_qty + ?, updated_at = ? WHERE id = ?
		`, sale.Quantity, formatTime(time.Now()), sale.ProductID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) DeleteSales(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM sales WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ClearSales(ctx context.Context, from time.Time, to time.Time) (int, error) {
	where, args := rangeClause("sold_at", from, to)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales`+where, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

type auditRow struct {
	ID            string `db:"id"`
	ActorUsername string `db:"actor_username"`
	ActorRole     string `db:"actor_role"`
	Action        string `db:"action"`
	EntityType    string `db:"entity_type"`
	EntityID      string `db:"entity_id"`
	Detail        string `db:"detail"`
	CreatedAt     string `db:"created_at"`
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, auditRow{
		ID:            entry.ID,
		ActorUsername: entry.ActorUsername,
		ActorRole:     entry.ActorRole,
		Action:        entry.Action,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Detail:        entry.Detail,
		CreatedAt:     formatTime(entry.CreatedAt),
	})
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	where, args := rangeClause("created_at", from, to)
	args = append(args, limit)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, args...); err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		created, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, domain.AuditLog{
			ID:            row.ID,
			ActorUsername: row.ActorUsername,
			ActorRole:     row.ActorRole,
			Action:        row.Action,
			EntityType:    row.EntityType,
			EntityID:      row.EntityID,
			Detail:        row.Detail,
			CreatedAt:     created,
		})
	}
	return logs, nil
}

type userRow struct {
	Username  string `db:"username"`
	Password  string `db:"password"`
	Role      string `db:"role"`
	Active    bool   `db:"active"`
	CreatedAt string `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	stamp := formatTime(user.CreatedAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, user.Username, user.Password, user.Role, stamp, stamp)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`); err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		created, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: created,
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = ?, updated_at = ? WHERE username = ?
	`, password, formatTime(time.Now()), username)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func productsFromRows(rows []productRow) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		product, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

func rangeClause(column string, from time.Time, to time.Time) (string, []any) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if !from.IsZero() {
		conditions = append(conditions, column+" >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		conditions = append(conditions, column+" < ?")
		args = append(args, formatTime(to))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(val string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, val, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", val, err)
	}
	return t, nil
}
