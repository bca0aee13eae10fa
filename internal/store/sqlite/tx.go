package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

type tx struct {
	tx *sql.Tx
}

// LockAccount is a no-op: the immediate transaction already holds the
// database write lock.
func (t *tx) LockAccount(ctx context.Context, accountID string) error {
	return nil
}

// --- Members ----------------------------------------------------------------

const memberColumns = `id, email, first_name, last_name, role, created_at`

func scanMember(row *sql.Row) (*domain.Member, error) {
	var (
		m       domain.Member
		role    string
		created int64
	)
	if err := row.Scan(&m.ID, &m.Email, &m.FirstName, &m.LastName, &role, &created); err != nil {
		return nil, translate(err)
	}
	m.Role = domain.Role(role)
	m.CreatedAt = fromUnixNano(created)
	return &m, nil
}

func (t *tx) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return scanMember(t.tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id))
}

func (t *tx) GetMemberByEmail(ctx context.Context, email string) (*domain.Member, error) {
	return scanMember(t.tx.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE lower(email) = lower(?)`, email))
}

// --- Ledger -----------------------------------------------------------------

func (t *tx) SumEntries(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = ?`, accountID).Scan(&sum)
	return sum, translate(err)
}

func (t *tx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, reason, category, transfer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.Amount, e.Reason, string(e.Category), e.TransferID, unixNano(e.CreatedAt))
	return translate(err)
}

func (t *tx) ListEntries(ctx context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error) {
	query := `SELECT id, account_id, amount, reason, category, transfer_id, created_at
		FROM ledger_entries WHERE account_id = ?`
	args := []any{accountID}
	if !period.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, unixNano(period.From))
	}
	if !period.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, unixNano(period.To))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e        domain.LedgerEntry
			category string
			transfer sql.NullString
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Reason, &category, &transfer, &created); err != nil {
			return nil, translate(err)
		}
		e.Category = domain.Category(category)
		e.TransferID = nullString(transfer)
		e.CreatedAt = fromUnixNano(created)
		entries = append(entries, e)
	}
	return entries, translate(rows.Err())
}

// --- Transfers --------------------------------------------------------------

func (t *tx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transfers (id, from_account_id, to_account_id, amount, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.FromAccountID, tr.ToAccountID, tr.Amount, tr.Message, unixNano(tr.CreatedAt))
	return translate(err)
}

const transferColumns = `id, from_account_id, to_account_id, amount, message, created_at`

func scanTransfer(scan func(dest ...any) error) (domain.Transfer, error) {
	var (
		tr      domain.Transfer
		message sql.NullString
		created int64
	)
	if err := scan(&tr.ID, &tr.FromAccountID, &tr.ToAccountID, &tr.Amount, &message, &created); err != nil {
		return domain.Transfer{}, translate(err)
	}
	tr.Message = nullString(message)
	tr.CreatedAt = fromUnixNano(created)
	return tr, nil
}

func (t *tx) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id).Scan)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *tx) listTransfers(ctx context.Context, column, accountID string) ([]domain.Transfer, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE `+column+` = ? ORDER BY created_at DESC, rowid DESC`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	transfers := []domain.Transfer{}
	for rows.Next() {
		tr, err := scanTransfer(rows.Scan)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, tr)
	}
	return transfers, translate(rows.Err())
}

func (t *tx) ListTransfersFrom(ctx context.Context, accountID string) ([]domain.Transfer, error) {
	return t.listTransfers(ctx, "from_account_id", accountID)
}

func (t *tx) ListTransfersTo(ctx context.Context, accountID string) ([]domain.Transfer, error) {
	return t.listTransfers(ctx, "to_account_id", accountID)
}

// --- Idempotency ------------------------------------------------------------

func (t *tx) GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var (
		rec    domain.IdempotencyRecord
		status sql.NullInt64
		body   []byte
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT key, request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = ?`, key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &status, &body)
	if err != nil {
		return nil, translate(err)
	}
	rec.ResponseStatus = int(status.Int64)
	rec.ResponseBody = body
	return &rec, nil
}

func (t *tx) ReserveIdempotency(ctx context.Context, key, requestHash string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, created_at)
		VALUES (?, ?, ?, strftime('%s', 'now') * 1000000000)
	`, key, requestHash, domain.IdempotencyInProgress)
	return translate(err)
}

func (t *tx) CompleteIdempotency(ctx context.Context, key string, status int, body []byte) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = ?, response_status = ?, response_body = ? WHERE key = ?
	`, domain.IdempotencyCompleted, status, body, key)
	return translate(err)
}

// --- Free visits ------------------------------------------------------------

func (t *tx) ListFreeVisitGrants(ctx context.Context, accountID string) ([]domain.FreeVisitGrant, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, account_id, amount, used, created_at
		FROM free_visit_grants WHERE account_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	grants := []domain.FreeVisitGrant{}
	for rows.Next() {
		var (
			g       domain.FreeVisitGrant
			created int64
		)
		if err := rows.Scan(&g.ID, &g.AccountID, &g.Amount, &g.Used, &created); err != nil {
			return nil, translate(err)
		}
		g.CreatedAt = fromUnixNano(created)
		grants = append(grants, g)
	}
	return grants, translate(rows.Err())
}

func (t *tx) InsertFreeVisitGrant(ctx context.Context, g *domain.FreeVisitGrant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO free_visit_grants (id, account_id, amount, used, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.ID, g.AccountID, g.Amount, g.Used, unixNano(g.CreatedAt))
	return translate(err)
}

func (t *tx) IncrementFreeVisitUsed(ctx context.Context, grantID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE free_visit_grants SET used = used + 1 WHERE id = ? AND used < amount`, grantID)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Catalog & orders -------------------------------------------------------

func (t *tx) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	products := []domain.Product{}
	if len(ids) == 0 {
		return products, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, name, price, active FROM products WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      domain.Product
			active int
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &active); err != nil {
			return nil, translate(err)
		}
		p.Active = active == 1
		products = append(products, p)
	}
	return products, translate(rows.Err())
}

func (t *tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, total_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, o.ID, o.AccountID, o.TotalAmount, string(o.Status), unixNano(o.CreatedAt))
	if err != nil {
		return translate(err)
	}
	for _, l := range o.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, l.ID, o.ID, l.ProductID, l.Quantity, l.UnitPriceAtPurchase)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *tx) SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, string(status), orderID)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

func (t *tx) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = ? ORDER BY rowid
	`, orderID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	lines := []domain.OrderLine{}
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPriceAtPurchase); err != nil {
			return nil, translate(err)
		}
		lines = append(lines, l)
	}
	return lines, translate(rows.Err())
}

func (t *tx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var (
		o       domain.Order
		status  string
		created int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, account_id, total_amount, status, created_at FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.AccountID, &o.TotalAmount, &status, &created)
	if err != nil {
		return nil, translate(err)
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = fromUnixNano(created)
	if o.Lines, err = t.orderLines(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *tx) ListOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, account_id, total_amount, status, created_at
		FROM orders WHERE account_id = ? ORDER BY created_at DESC, rowid DESC
	`, accountID)
	if err != nil {
		return nil, translate(err)
	}

	orders := []domain.Order{}
	for rows.Next() {
		var (
			o       domain.Order
			status  string
			created int64
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &o.TotalAmount, &status, &created); err != nil {
			rows.Close()
			return nil, translate(err)
		}
		o.Status = domain.OrderStatus(status)
		o.CreatedAt = fromUnixNano(created)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, translate(err)
	}
	rows.Close()

	for i := range orders {
		if orders[i].Lines, err = t.orderLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// --- Receipts ---------------------------------------------------------------

const receiptColumns = `id, order_id, status, redeemed_at, redeemed_by, created_at`

func scanReceipt(scan func(dest ...any) error) (domain.Receipt, error) {
	var (
		r          domain.Receipt
		status     string
		redeemedAt sql.NullInt64
		redeemedBy sql.NullString
		created    int64
	)
	if err := scan(&r.ID, &r.OrderID, &status, &redeemedAt, &redeemedBy, &created); err != nil {
		return domain.Receipt{}, translate(err)
	}
	r.Status = domain.ReceiptStatus(status)
	r.RedeemedAt = nullTime(redeemedAt)
	r.RedeemedByStaffID = nullString(redeemedBy)
	r.CreatedAt = fromUnixNano(created)
	return r, nil
}

func (t *tx) InsertReceipt(ctx context.Context, r *domain.Receipt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO receipts (id, order_id, status, created_at) VALUES (?, ?, ?, ?)
	`, r.ID, r.OrderID, string(r.Status), unixNano(r.CreatedAt))
	return translate(err)
}

func (t *tx) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	r, err := scanReceipt(t.tx.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id).Scan)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) GetReceiptByOrder(ctx context.Context, orderID string) (*domain.Receipt, error) {
	r, err := scanReceipt(t.tx.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE order_id = ?`, orderID).Scan)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) MarkReceiptRedeemed(ctx context.Context, r *domain.Receipt) error {
	var redeemedAt sql.NullInt64
	if r.RedeemedAt != nil {
		redeemedAt = sql.NullInt64{Int64: unixNano(*r.RedeemedAt), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE receipts SET status = ?, redeemed_at = ?, redeemed_by = ?
		WHERE id = ? AND status = ?
	`, string(domain.ReceiptRedeemed), redeemedAt, r.RedeemedByStaffID, r.ID, string(domain.ReceiptPending))
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

func (t *tx) ListReceipts(ctx context.Context, status domain.ReceiptStatus) ([]domain.Receipt, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE status = ? ORDER BY created_at DESC, rowid DESC`, string(status))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	receipts := []domain.Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows.Scan)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, translate(rows.Err())
}

// --- Resources & enrollments ------------------------------------------------

func (t *tx) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	var (
		r        domain.Resource
		kind     string
		capacity sql.NullInt64
		approval int
		startsAt sql.NullInt64
		created  int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, kind, title, capacity, requires_approval, starts_at, created_at
		FROM resources WHERE id = ?
	`, id).Scan(&r.ID, &kind, &r.Title, &capacity, &approval, &startsAt, &created)
	if err != nil {
		return nil, translate(err)
	}
	r.Kind = domain.ResourceKind(kind)
	if capacity.Valid {
		c := int(capacity.Int64)
		r.Capacity = &c
	}
	r.RequiresApproval = approval == 1
	r.StartsAt = nullTime(startsAt)
	r.CreatedAt = fromUnixNano(created)
	return &r, nil
}

// LockResource relies on the immediate transaction for serialization.
func (t *tx) LockResource(ctx context.Context, id string) (*domain.Resource, error) {
	return t.GetResource(ctx, id)
}

const enrollmentColumns = `id, account_id, resource_id, status, created_at, updated_at`

func scanEnrollment(scan func(dest ...any) error) (domain.Enrollment, error) {
	var (
		e       domain.Enrollment
		status  string
		created int64
		updated int64
	)
	if err := scan(&e.ID, &e.AccountID, &e.ResourceID, &status, &created, &updated); err != nil {
		return domain.Enrollment{}, translate(err)
	}
	e.Status = domain.EnrollmentStatus(status)
	e.CreatedAt = fromUnixNano(created)
	e.UpdatedAt = fromUnixNano(updated)
	return e, nil
}

func (t *tx) FindLiveEnrollment(ctx context.Context, accountID, resourceID string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(t.tx.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE account_id = ? AND resource_id = ? AND status <> 'CANCELLED'
	`, accountID, resourceID).Scan)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) CountLiveEnrollments(ctx context.Context, resourceID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE resource_id = ? AND status <> 'CANCELLED'`, resourceID).Scan(&n)
	return n, translate(err)
}

func (t *tx) InsertEnrollment(ctx context.Context, e *domain.Enrollment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO enrollments (id, account_id, resource_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.ResourceID, string(e.Status), unixNano(e.CreatedAt), unixNano(e.UpdatedAt))
	return translate(err)
}

func (t *tx) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(t.tx.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id).Scan)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) SetEnrollmentStatus(ctx context.Context, e *domain.Enrollment) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE enrollments SET status = ?, updated_at = ? WHERE id = ?`,
		string(e.Status), unixNano(e.UpdatedAt), e.ID)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

func (t *tx) ListEnrollments(ctx context.Context, accountID string) ([]domain.Enrollment, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE account_id = ? ORDER BY created_at DESC, rowid DESC`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	enrollments := []domain.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, translate(rows.Err())
}

// --- Achievements -----------------------------------------------------------

func scanAchievement(row *sql.Row) (*domain.Achievement, error) {
	var (
		a      domain.Achievement
		active int
		code   sql.NullString
		qr     sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &a.RewardAmount, &active, &code, &qr); err != nil {
		return nil, translate(err)
	}
	a.IsActive = active == 1
	a.Code = nullString(code)
	a.QRCode = nullString(qr)
	return &a, nil
}

const achievementColumns = `id, name, reward_amount, is_active, code, qr_code`

func (t *tx) GetAchievement(ctx context.Context, id string) (*domain.Achievement, error) {
	return scanAchievement(t.tx.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE id = ?`, id))
}

func (t *tx) GetAchievementByToken(ctx context.Context, token string, kind domain.TokenKind) (*domain.Achievement, error) {
	column := "code"
	if kind == domain.TokenQR {
		column = "qr_code"
	}
	return scanAchievement(t.tx.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE `+column+` = ?`, token))
}

func (t *tx) FindAchievementGrant(ctx context.Context, accountID, achievementID string) (*domain.AchievementGrant, error) {
	var (
		g       domain.AchievementGrant
		created int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, account_id, achievement_id, granted_by, created_at
		FROM achievement_grants WHERE account_id = ? AND achievement_id = ?
	`, accountID, achievementID).Scan(&g.ID, &g.AccountID, &g.AchievementID, &g.GrantedBy, &created)
	if err != nil {
		return nil, translate(err)
	}
	g.CreatedAt = fromUnixNano(created)
	return &g, nil
}

func (t *tx) InsertAchievementGrant(ctx context.Context, g *domain.AchievementGrant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO achievement_grants (id, account_id, achievement_id, granted_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.ID, g.AccountID, g.AchievementID, g.GrantedBy, unixNano(g.CreatedAt))
	return translate(err)
}

// --- Audit ------------------------------------------------------------------

func (t *tx) Audit(ctx context.Context) (domain.AuditReport, error) {
	return store.RunAudit(ctx, func(ctx context.Context, query string) (int64, error) {
		var v int64
		err := t.tx.QueryRowContext(ctx, query).Scan(&v)
		return v, translate(err)
	})
}
