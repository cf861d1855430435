package stockdocs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort deduplicates client-supplied request ids.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the stock document workflows.
type Service struct {
	repo   Repository
	audit  AuditPort
	idem   IdempotencyPort
	levels *ledger.Reader
	cfg    ServiceConfig
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// RequireSufficiency forces availability checks on deduction lines even
	// for workflows that historically allow negative stock. Off by default.
	RequireSufficiency bool
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, idem IdempotencyPort, levels *ledger.Reader, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, idem: idem, levels: levels, cfg: cfg}
}

// CreateInput describes a new stock document.
type CreateInput struct {
	Type       DocType
	BranchID   int64
	ToBranchID *int64
	Note       string
	// RequestID optionally correlates the creation with a client request.
	RequestID string
	ActorID   int64
	Lines     []LineInput
}

// LineInput describes one detail row.
type LineInput struct {
	ProductID int64
	VariantID int64
	Barcode   string
	Quantity  float64
	UnitCost  float64
	Direction AdjustDirection
	Note      string
}

// UpdateInput replaces the note and detail rows of a pending document.
type UpdateInput struct {
	Note    string
	ActorID int64
	Lines   []LineInput
}

// Create persists a new PENDING document with a freshly allocated ref.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Document, error) {
	if _, ok := docTypeRefs[input.Type]; !ok {
		return nil, fmt.Errorf("%w: unknown document type %q", ErrValidation, input.Type)
	}
	if input.BranchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	if input.Type == TypeTransfer {
		if input.ToBranchID == nil {
			return nil, fmt.Errorf("%w: transfer needs a destination branch", ErrValidation)
		}
		if *input.ToBranchID == input.BranchID {
			return nil, fmt.Errorf("%w: source and destination branch must differ", ErrValidation)
		}
	}
	if input.RequestID != "" {
		if _, err := uuid.Parse(input.RequestID); err != nil {
			return nil, fmt.Errorf("%w: invalid request id: %v", ErrValidation, err)
		}
	}
	for _, line := range input.Lines {
		if err := validateLine(input.Type, line); err != nil {
			return nil, err
		}
	}
	if input.RequestID != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.RequestID, "stockdocs"); err != nil {
			return nil, err
		}
	}

	var docID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref, err := tx.NextRef(ctx, input.Type, input.BranchID)
		if err != nil {
			return err
		}
		doc := Document{
			Ref:        ref,
			Type:       input.Type,
			BranchID:   input.BranchID,
			ToBranchID: input.ToBranchID,
			Status:     shared.StatusPending,
			Note:       input.Note,
			CreatedBy:  input.ActorID,
		}
		docID, err = tx.Create(ctx, doc)
		if err != nil {
			return fmt.Errorf("create %s document: %w", input.Type, err)
		}
		for _, line := range input.Lines {
			if _, err := tx.InsertLine(ctx, lineFromInput(docID, line)); err != nil {
				return fmt.Errorf("insert document line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// Release the key so the client can retry after a transient failure.
		if input.RequestID != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, input.RequestID)
		}
		return nil, err
	}

	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "stockdocs:create", doc)
	return doc, nil
}

// Update replaces the detail rows of a pending document wholesale.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*Document, error) {
	if len(input.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status != shared.StatusPending {
			return ErrNotEditable
		}
		for _, line := range input.Lines {
			if err := validateLine(doc.Type, line); err != nil {
				return err
			}
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		for _, line := range input.Lines {
			if _, err := tx.InsertLine(ctx, lineFromInput(id, line)); err != nil {
				return err
			}
		}
		return tx.UpdateNote(ctx, id, input.Note)
	})
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "stockdocs:update", doc)
	return doc, nil
}

// Cancel soft-deletes a pending document with a reason. Terminal.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := shared.Transition(doc.Status, shared.StatusCancelled); err != nil {
			return ErrNotEditable
		}
		return tx.UpdateStatus(ctx, id, shared.StatusCancelled, actorID, &reason)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "stockdocs:cancel", &Document{ID: id})
	return nil
}

// Approve posts the document's stock effects: one ledger delta plus one
// APPROVED movement row per line (two for transfer lines), and the status
// flip, all inside a single transaction. A second call fails with
// ErrAlreadyApproved and writes nothing.
func (s *Service) Approve(ctx context.Context, id int64, actorID int64) (*Document, error) {
	var touched []ledger.LevelKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status == shared.StatusApproved {
			return ErrAlreadyApproved
		}
		if _, err := shared.Transition(doc.Status, shared.StatusApproved); err != nil {
			return fmt.Errorf("%w: document is %s", ErrNotEditable, doc.Status)
		}
		if len(doc.Lines) == 0 {
			return ErrEmptyLines
		}

		now := time.Now().UTC()
		movementType := movementTypes[doc.Type]
		checkSufficiency := requiresSufficiency[doc.Type] || s.cfg.RequireSufficiency
		ldg := tx.Ledger()
		for _, line := range doc.Lines {
			deltas, err := lineDeltas(doc, line)
			if err != nil {
				return err
			}
			for _, d := range deltas {
				if _, err := ledger.Apply(ctx, ldg, ledger.ApplyInput{
					VariantID:         d.VariantID,
					BranchID:          d.BranchID,
					Delta:             d.Quantity,
					RequireSufficient: checkSufficiency,
					Barcode:           line.Barcode,
				}); err != nil {
					return err
				}
				if _, err := ldg.InsertMovement(ctx, ledger.Movement{
					VariantID:  d.VariantID,
					BranchID:   d.BranchID,
					Type:       movementType,
					Status:     ledger.MovementApproved,
					Quantity:   d.Quantity,
					UnitCost:   d.UnitCost,
					Note:       doc.Ref,
					CreatedBy:  actorID,
					CreatedAt:  now,
					ApprovedBy: &actorID,
					ApprovedAt: &now,
				}); err != nil {
					return err
				}
				touched = append(touched, ledger.LevelKey{VariantID: d.VariantID, BranchID: d.BranchID})
			}
		}
		return tx.UpdateStatus(ctx, id, shared.StatusApproved, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.levels.Invalidate(ctx, touched...)
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "stockdocs:approve", doc)
	return doc, nil
}

// Get returns a document with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns documents matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	return s.repo.List(ctx, filter)
}

func validateLine(docType DocType, line LineInput) error {
	if line.VariantID == 0 || line.ProductID == 0 {
		return fmt.Errorf("%w: product and variant required", ErrValidation)
	}
	if line.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if line.UnitCost < 0 {
		return fmt.Errorf("%w: unit cost must be >= 0", ErrValidation)
	}
	if docType == TypeAdjustment && line.Direction != DirectionPositive && line.Direction != DirectionNegative {
		return fmt.Errorf("%w: adjustment line needs a direction", ErrValidation)
	}
	return nil
}

func lineFromInput(docID int64, line LineInput) Line {
	return Line{
		DocumentID: docID,
		ProductID:  line.ProductID,
		VariantID:  line.VariantID,
		Barcode:    line.Barcode,
		Quantity:   line.Quantity,
		UnitCost:   line.UnitCost,
		Direction:  line.Direction,
		Note:       line.Note,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc *Document) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_document",
		EntityID: fmt.Sprintf("%d", doc.ID),
		Meta: map[string]any{
			"ref":  doc.Ref,
			"type": string(doc.Type),
		},
	})
}
