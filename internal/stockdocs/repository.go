package stockdocs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/platform/db"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Repository persists stock documents in PostgreSQL.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, int, error)
}

// TxRepository exposes the transactional operations used by the service. The
// bound ledger transaction rides along so document and ledger writes commit
// or roll back as one unit.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Document, error)
	Create(ctx context.Context, doc Document) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	DeleteLines(ctx context.Context, documentID int64) error
	UpdateNote(ctx context.Context, id int64, note string) error
	UpdateStatus(ctx context.Context, id int64, status shared.DocumentStatus, actorID int64, reason *string) error
	NextRef(ctx context.Context, docType DocType, branchID int64) (string, error)
	Ledger() ledger.Tx
}

// ListFilter narrows document listings.
type ListFilter struct {
	Type     DocType
	BranchID int64
	Status   shared.DocumentStatus
	Limit    int
	Offset   int
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx, ledger: ledger.Bind(tx)})
	})
}

const docColumns = `id, ref, doc_type, branch_id, to_branch_id, status, note, created_by, created_at, updated_at,
approved_by, approved_at, cancelled_by, cancelled_at, cancel_reason`

func (r *repository) Get(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, r.pool, id, "")
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM stock_documents
WHERE ($1 = '' OR doc_type = $1) AND ($2 = 0 OR branch_id = $2) AND ($3 = '' OR status = $3)`,
		string(filter.Type), filter.BranchID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+docColumns+` FROM stock_documents
WHERE ($1 = '' OR doc_type = $1) AND ($2 = 0 OR branch_id = $2) AND ($3 = '' OR status = $3)
ORDER BY id DESC LIMIT $4 OFFSET $5`,
		string(filter.Type), filter.BranchID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

type txRepository struct {
	q      db.DBTX
	ledger ledger.Tx
}

func (t *txRepository) Ledger() ledger.Tx {
	return t.ledger
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, t.q, id, " FOR UPDATE")
}

func (t *txRepository) Create(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO stock_documents (ref, doc_type, branch_id, to_branch_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		doc.Ref, string(doc.Type), doc.BranchID, doc.ToBranchID, string(doc.Status), doc.Note, doc.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO stock_document_lines (document_id, product_id, product_variant_id, barcode, quantity, unit_cost, direction, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		line.DocumentID, line.ProductID, line.VariantID, line.Barcode, line.Quantity, line.UnitCost, string(line.Direction), line.Note).Scan(&id)
	return id, err
}

func (t *txRepository) DeleteLines(ctx context.Context, documentID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM stock_document_lines WHERE document_id=$1`, documentID)
	return err
}

func (t *txRepository) UpdateNote(ctx context.Context, id int64, note string) error {
	_, err := t.q.Exec(ctx, `UPDATE stock_documents SET note=$2, updated_at=NOW() WHERE id=$1`, id, note)
	return err
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status shared.DocumentStatus, actorID int64, reason *string) error {
	switch status {
	case shared.StatusApproved:
		_, err := t.q.Exec(ctx, `UPDATE stock_documents SET status=$2, approved_by=$3, approved_at=NOW(), updated_at=NOW() WHERE id=$1`,
			id, string(status), actorID)
		return err
	case shared.StatusCancelled:
		_, err := t.q.Exec(ctx, `UPDATE stock_documents SET status=$2, cancelled_by=$3, cancelled_at=NOW(), cancel_reason=$4, updated_at=NOW() WHERE id=$1`,
			id, string(status), actorID, reason)
		return err
	default:
		_, err := t.q.Exec(ctx, `UPDATE stock_documents SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
		return err
	}
}

func (t *txRepository) NextRef(ctx context.Context, docType DocType, branchID int64) (string, error) {
	refType, ok := docTypeRefs[docType]
	if !ok {
		return "", shared.ErrUnknownDocType
	}
	return shared.NextRef(ctx, t.q, refType, branchID)
}

func getDocument(ctx context.Context, q db.DBTX, id int64, lock string) (*Document, error) {
	row := q.QueryRow(ctx, `SELECT `+docColumns+` FROM stock_documents WHERE id=$1`+lock, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT id, document_id, product_id, product_variant_id, barcode, quantity, unit_cost, direction, note
FROM stock_document_lines WHERE document_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line      Line
			direction string
		)
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.VariantID, &line.Barcode,
			&line.Quantity, &line.UnitCost, &direction, &line.Note); err != nil {
			return nil, err
		}
		line.Direction = AdjustDirection(direction)
		doc.Lines = append(doc.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		doc     Document
		docType string
		status  string
	)
	if err := row.Scan(&doc.ID, &doc.Ref, &docType, &doc.BranchID, &doc.ToBranchID, &status, &doc.Note,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt, &doc.ApprovedBy, &doc.ApprovedAt,
		&doc.CancelledBy, &doc.CancelledAt, &doc.CancelReason); err != nil {
		return nil, err
	}
	doc.Type = DocType(docType)
	doc.Status = shared.DocumentStatus(status)
	return &doc, nil
}
