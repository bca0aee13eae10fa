package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// Advisory lock namespaces (first key of pg_advisory_xact_lock).
const (
	lockNamespaceAccount int32 = 1
)

type tx struct {
	tx pgx.Tx
}

func (t *tx) LockAccount(ctx context.Context, accountID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, lockNamespaceAccount, accountID)
	return translate(err)
}

// --- Members ----------------------------------------------------------------

const memberColumns = `id, email, first_name, last_name, role, created_at`

func scanMember(row pgx.Row) (*domain.Member, error) {
	var (
		m    domain.Member
		role string
	)
	if err := row.Scan(&m.ID, &m.Email, &m.FirstName, &m.LastName, &role, &m.CreatedAt); err != nil {
		return nil, translate(err)
	}
	m.Role = domain.Role(role)
	return &m, nil
}

func (t *tx) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return scanMember(t.tx.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
}

func (t *tx) GetMemberByEmail(ctx context.Context, email string) (*domain.Member, error) {
	return scanMember(t.tx.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE lower(email) = lower($1)`, email))
}

// --- Ledger -----------------------------------------------------------------

func (t *tx) SumEntries(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&sum)
	return sum, translate(err)
}

func (t *tx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, reason, category, transfer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.AccountID, e.Amount, e.Reason, string(e.Category), e.TransferID, e.CreatedAt)
	return translate(err)
}

func (t *tx) ListEntries(ctx context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error) {
	var from, to *time.Time
	if !period.From.IsZero() {
		from = &period.From
	}
	if !period.To.IsZero() {
		to = &period.To
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, account_id, amount, reason, category, transfer_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		  AND ($2::TIMESTAMPTZ IS NULL OR created_at >= $2)
		  AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		ORDER BY created_at DESC, seq DESC
	`, accountID, from, to)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e        domain.LedgerEntry
			category string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Reason, &category, &e.TransferID, &e.CreatedAt); err != nil {
			return nil, translate(err)
		}
		e.Category = domain.Category(category)
		entries = append(entries, e)
	}
	return entries, translate(rows.Err())
}

// --- Transfers --------------------------------------------------------------

func (t *tx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transfers (id, from_account_id, to_account_id, amount, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tr.ID, tr.FromAccountID, tr.ToAccountID, tr.Amount, tr.Message, tr.CreatedAt)
	return translate(err)
}

const transferColumns = `id, from_account_id, to_account_id, amount, message, created_at`

func scanTransfer(row pgx.Row) (domain.Transfer, error) {
	var tr domain.Transfer
	if err := row.Scan(&tr.ID, &tr.FromAccountID, &tr.ToAccountID, &tr.Amount, &tr.Message, &tr.CreatedAt); err != nil {
		return domain.Transfer{}, translate(err)
	}
	return tr, nil
}

func (t *tx) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *tx) listTransfers(ctx context.Context, column, accountID string) ([]domain.Transfer, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE `+column+` = $1 ORDER BY created_at DESC, seq DESC`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	transfers := []domain.Transfer{}
	for rows.Next() {
		tr, err := scanTransfer(rows)
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
		status *int32
		body   []byte
	)
	err := t.tx.QueryRow(ctx,
		`SELECT key, request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &status, &body)
	if err != nil {
		return nil, translate(err)
	}
	if status != nil {
		rec.ResponseStatus = int(*status)
	}
	rec.ResponseBody = body
	return &rec, nil
}

func (t *tx) ReserveIdempotency(ctx context.Context, key, requestHash string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)`,
		key, requestHash, domain.IdempotencyInProgress)
	return translate(err)
}

func (t *tx) CompleteIdempotency(ctx context.Context, key string, status int, body []byte) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE idempotency_keys SET status = $1, response_status = $2, response_body = $3 WHERE key = $4`,
		domain.IdempotencyCompleted, status, body, key)
	return translate(err)
}

// --- Free visits ------------------------------------------------------------

func (t *tx) ListFreeVisitGrants(ctx context.Context, accountID string) ([]domain.FreeVisitGrant, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, account_id, amount, used, created_at
		FROM free_visit_grants WHERE account_id = $1
		ORDER BY created_at ASC, seq ASC
	`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	grants := []domain.FreeVisitGrant{}
	for rows.Next() {
		var g domain.FreeVisitGrant
		if err := rows.Scan(&g.ID, &g.AccountID, &g.Amount, &g.Used, &g.CreatedAt); err != nil {
			return nil, translate(err)
		}
		grants = append(grants, g)
	}
	return grants, translate(rows.Err())
}

func (t *tx) InsertFreeVisitGrant(ctx context.Context, g *domain.FreeVisitGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO free_visit_grants (id, account_id, amount, used, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, g.ID, g.AccountID, g.Amount, g.Used, g.CreatedAt)
	return translate(err)
}

func (t *tx) IncrementFreeVisitUsed(ctx context.Context, grantID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE free_visit_grants SET used = used + 1 WHERE id = $1 AND used < amount`, grantID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
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
	rows, err := t.tx.Query(ctx, `SELECT id, name, price, active FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, translate(err)
		}
		products = append(products, p)
	}
	return products, translate(rows.Err())
}

func (t *tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, account_id, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, o.ID, o.AccountID, o.TotalAmount, string(o.Status), o.CreatedAt)
	if err != nil {
		return translate(err)
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(`
			INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, l.ID, o.ID, l.ProductID, l.Quantity, l.UnitPriceAtPurchase)
	}
	return translate(t.tx.SendBatch(ctx, batch).Close())
}

func (t *tx) SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, string(status), orderID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY seq
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

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.AccountID, &o.TotalAmount, &status, &o.CreatedAt); err != nil {
		return domain.Order{}, translate(err)
	}
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func (t *tx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT id, account_id, total_amount, status, created_at FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if o.Lines, err = t.orderLines(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *tx) ListOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, account_id, total_amount, status, created_at
		FROM orders WHERE account_id = $1 ORDER BY created_at DESC, seq DESC
	`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, translate(err)
	}

	for i := range orders {
		if orders[i].Lines, err = t.orderLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// --- Receipts ---------------------------------------------------------------

const receiptColumns = `id, order_id, status, redeemed_at, redeemed_by, created_at`

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r      domain.Receipt
		status string
	)
	if err := row.Scan(&r.ID, &r.OrderID, &status, &r.RedeemedAt, &r.RedeemedByStaffID, &r.CreatedAt); err != nil {
		return domain.Receipt{}, translate(err)
	}
	r.Status = domain.ReceiptStatus(status)
	return r, nil
}

func (t *tx) InsertReceipt(ctx context.Context, r *domain.Receipt) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO receipts (id, order_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.OrderID, string(r.Status), r.CreatedAt)
	return translate(err)
}

func (t *tx) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	r, err := scanReceipt(t.tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) GetReceiptByOrder(ctx context.Context, orderID string) (*domain.Receipt, error) {
	r, err := scanReceipt(t.tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) MarkReceiptRedeemed(ctx context.Context, r *domain.Receipt) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE receipts SET status = $1, redeemed_at = $2, redeemed_by = $3
		WHERE id = $4 AND status = $5
	`, string(domain.ReceiptRedeemed), r.RedeemedAt, r.RedeemedByStaffID, r.ID, string(domain.ReceiptPending))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListReceipts(ctx context.Context, status domain.ReceiptStatus) ([]domain.Receipt, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE status = $1 ORDER BY created_at DESC, seq DESC`, string(status))
	if err != nil {
		return nil, translate(err)
	}
	receipts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Receipt, error) {
		return scanReceipt(row)
	})
	return receipts, translate(err)
}

// --- Resources & enrollments ------------------------------------------------

const resourceColumns = `id, kind, title, capacity, requires_approval, starts_at, created_at`

func scanResource(row pgx.Row) (*domain.Resource, error) {
	var (
		r    domain.Resource
		kind string
	)
	if err := row.Scan(&r.ID, &kind, &r.Title, &r.Capacity, &r.RequiresApproval, &r.StartsAt, &r.CreatedAt); err != nil {
		return nil, translate(err)
	}
	r.Kind = domain.ResourceKind(kind)
	return &r, nil
}

func (t *tx) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	return scanResource(t.tx.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
}

func (t *tx) LockResource(ctx context.Context, id string) (*domain.Resource, error) {
	return scanResource(t.tx.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1 FOR UPDATE`, id))
}

const enrollmentColumns = `id, account_id, resource_id, status, created_at, updated_at`

func scanEnrollment(row pgx.Row) (domain.Enrollment, error) {
	var (
		e      domain.Enrollment
		status string
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.ResourceID, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.Enrollment{}, translate(err)
	}
	e.Status = domain.EnrollmentStatus(status)
	return e, nil
}

func (t *tx) FindLiveEnrollment(ctx context.Context, accountID, resourceID string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(t.tx.QueryRow(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE account_id = $1 AND resource_id = $2 AND status <> 'CANCELLED'
	`, accountID, resourceID))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) CountLiveEnrollments(ctx context.Context, resourceID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE resource_id = $1 AND status <> 'CANCELLED'`, resourceID).Scan(&n)
	return n, translate(err)
}

func (t *tx) InsertEnrollment(ctx context.Context, e *domain.Enrollment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO enrollments (id, account_id, resource_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.AccountID, e.ResourceID, string(e.Status), e.CreatedAt, e.UpdatedAt)
	return translate(err)
}

func (t *tx) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(t.tx.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) SetEnrollmentStatus(ctx context.Context, e *domain.Enrollment) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE enrollments SET status = $1, updated_at = $2 WHERE id = $3`,
		string(e.Status), e.UpdatedAt, e.ID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListEnrollments(ctx context.Context, accountID string) ([]domain.Enrollment, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE account_id = $1 ORDER BY created_at DESC, seq DESC`, accountID)
	if err != nil {
		return nil, translate(err)
	}
	enrollments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Enrollment, error) {
		return scanEnrollment(row)
	})
	return enrollments, translate(err)
}

// --- Achievements -----------------------------------------------------------

const achievementColumns = `id, name, reward_amount, is_active, code, qr_code`

func scanAchievement(row pgx.Row) (*domain.Achievement, error) {
	var a domain.Achievement
	if err := row.Scan(&a.ID, &a.Name, &a.RewardAmount, &a.IsActive, &a.Code, &a.QRCode); err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (t *tx) GetAchievement(ctx context.Context, id string) (*domain.Achievement, error) {
	return scanAchievement(t.tx.QueryRow(ctx, `SELECT `+achievementColumns+` FROM achievements WHERE id = $1`, id))
}

func (t *tx) GetAchievementByToken(ctx context.Context, token string, kind domain.TokenKind) (*domain.Achievement, error) {
	column := "code"
	if kind == domain.TokenQR {
		column = "qr_code"
	}
	return scanAchievement(t.tx.QueryRow(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE `+column+` = $1`, token))
}

func (t *tx) FindAchievementGrant(ctx context.Context, accountID, achievementID string) (*domain.AchievementGrant, error) {
	var g domain.AchievementGrant
	err := t.tx.QueryRow(ctx, `
		SELECT id, account_id, achievement_id, granted_by, created_at
		FROM achievement_grants WHERE account_id = $1 AND achievement_id = $2
	`, accountID, achievementID).Scan(&g.ID, &g.AccountID, &g.AchievementID, &g.GrantedBy, &g.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

func (t *tx) InsertAchievementGrant(ctx context.Context, g *domain.AchievementGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO achievement_grants (id, account_id, achievement_id, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, g.ID, g.AccountID, g.AchievementID, g.GrantedBy, g.CreatedAt)
	return translate(err)
}

// --- Audit ------------------------------------------------------------------

func (t *tx) Audit(ctx context.Context) (domain.AuditReport, error) {
	return store.RunAudit(ctx, func(ctx context.Context, query string) (int64, error) {
		var v int64
		err := t.tx.QueryRow(ctx, `SELECT (`+query+`)::BIGINT`).Scan(&v)
		return v, translate(err)
	})
}
