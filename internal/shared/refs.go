package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlas-pos/atlas-pos/internal/platform/db"
)

// DocType identifies a document family for reference numbering.
type DocType string

const (
	DocTypeAdjustment  DocType = "STOCK_ADJUSTMENT"
	DocTypeTransfer    DocType = "STOCK_TRANSFER"
	DocTypeRequest     DocType = "STOCK_REQUEST"
	DocTypeStockReturn DocType = "STOCK_RETURN"
	DocTypePurchase    DocType = "PURCHASE"
	DocTypeInvoice     DocType = "INVOICE"
	DocTypeQuotation   DocType = "QUOTATION"
	DocTypeSaleReturn  DocType = "SALE_RETURN"
)

// refPrefixes maps document families to their human-readable ref prefixes.
var refPrefixes = map[DocType]string{
	DocTypeAdjustment:  "SAJM",
	DocTypeTransfer:    "STRM",
	DocTypeRequest:     "SRQM",
	DocTypeStockReturn: "SRTM",
	DocTypePurchase:    "PUR",
	DocTypeInvoice:     "INV",
	DocTypeQuotation:   "QUO",
	DocTypeSaleReturn:  "SR",
}

// ErrUnknownDocType indicates an unregistered document family.
var ErrUnknownDocType = errors.New("unknown document type")

// Prefix returns the ref prefix for a document family.
func Prefix(docType DocType) (string, error) {
	p, ok := refPrefixes[docType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDocType, docType)
	}
	return p, nil
}

// FormatRef renders a reference string, e.g. SAJM-00007.
func FormatRef(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%05d", prefix, seq)
}

// NextRef allocates the next per-branch sequence value for a document family
// and renders the reference string. The counter row is upserted atomically so
// concurrent creators cannot collide on the same ref; callers must pass the
// transaction the document insert runs in, so an aborted workflow releases
// the number together with everything else.
func NextRef(ctx context.Context, tx db.DBTX, docType DocType, branchID int64) (string, error) {
	prefix, err := Prefix(docType)
	if err != nil {
		return "", err
	}
	var seq int64
	err = tx.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, branch_id, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (doc_type, branch_id) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, string(docType), branchID).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("shared: next ref for %s/%d: %w", docType, branchID, err)
	}
	return FormatRef(prefix, seq), nil
}
