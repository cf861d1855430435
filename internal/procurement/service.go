package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the purchase workflows.
type Service struct {
	repo   Repository
	audit  AuditPort
	levels *ledger.Reader
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, levels *ledger.Reader) *Service {
	return &Service{repo: repo, audit: audit, levels: levels}
}

// CreateInput describes a new purchase draft.
type CreateInput struct {
	SupplierID int64
	BranchID   int64
	Note       string
	ActorID    int64
	Lines      []LineInput
}

// LineInput describes one purchased product row.
type LineInput struct {
	ProductID int64
	VariantID int64
	Barcode   string
	Quantity  float64
	UnitCost  float64
}

// Create persists a new PENDING purchase with a freshly allocated ref.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Purchase, error) {
	if input.SupplierID == 0 || input.BranchID == 0 {
		return nil, fmt.Errorf("%w: supplier and branch required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	total := decimal.Zero
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.VariantID == 0 {
			return nil, fmt.Errorf("%w: product and variant required", ErrValidation)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		if line.UnitCost < 0 {
			return nil, fmt.Errorf("%w: unit cost must be >= 0", ErrValidation)
		}
		total = total.Add(decimal.NewFromFloat(line.Quantity).Mul(decimal.NewFromFloat(line.UnitCost)))
	}
	totalCost, _ := total.Float64()

	var purchaseID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref, err := tx.NextRef(ctx, input.BranchID)
		if err != nil {
			return err
		}
		purchaseID, err = tx.Create(ctx, Purchase{
			Ref:        ref,
			SupplierID: input.SupplierID,
			BranchID:   input.BranchID,
			Status:     shared.StatusPending,
			TotalCost:  totalCost,
			Note:       input.Note,
			CreatedBy:  input.ActorID,
		})
		if err != nil {
			return fmt.Errorf("create purchase: %w", err)
		}
		for _, line := range input.Lines {
			if _, err := tx.InsertLine(ctx, Line{
				PurchaseID: purchaseID,
				ProductID:  line.ProductID,
				VariantID:  line.VariantID,
				Barcode:    line.Barcode,
				Quantity:   line.Quantity,
				UnitCost:   line.UnitCost,
			}); err != nil {
				return fmt.Errorf("insert purchase line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p, err := s.repo.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "procurement:create", p)
	return p, nil
}

// Receive books the purchase into stock: one positive movement per line at
// the line's unit cost, plus the status flip, in a single transaction.
// Receiving twice fails with ErrAlreadyReceived and posts nothing.
func (s *Service) Receive(ctx context.Context, id int64, actorID int64) (*Purchase, error) {
	var touched []ledger.LevelKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == shared.StatusApproved {
			return ErrAlreadyReceived
		}
		if _, err := shared.Transition(p.Status, shared.StatusApproved); err != nil {
			return fmt.Errorf("%w: purchase is %s", ErrNotEditable, p.Status)
		}
		if len(p.Lines) == 0 {
			return ErrEmptyLines
		}

		now := time.Now().UTC()
		ldg := tx.Ledger()
		for _, line := range p.Lines {
			if _, err := ledger.Apply(ctx, ldg, ledger.ApplyInput{
				VariantID: line.VariantID,
				BranchID:  p.BranchID,
				Delta:     line.Quantity,
				Barcode:   line.Barcode,
			}); err != nil {
				return err
			}
			cost := line.UnitCost
			if _, err := ldg.InsertMovement(ctx, ledger.Movement{
				VariantID:  line.VariantID,
				BranchID:   p.BranchID,
				Type:       ledger.MovementOrder,
				Status:     ledger.MovementApproved,
				Quantity:   line.Quantity,
				UnitCost:   &cost,
				Note:       p.Ref,
				CreatedBy:  actorID,
				CreatedAt:  now,
				ApprovedBy: &actorID,
				ApprovedAt: &now,
			}); err != nil {
				return err
			}
			touched = append(touched, ledger.LevelKey{VariantID: line.VariantID, BranchID: p.BranchID})
		}
		return tx.MarkReceived(ctx, id, actorID)
	})
	if err != nil {
		return nil, err
	}

	s.levels.Invalidate(ctx, touched...)
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "procurement:receive", p)
	return p, nil
}

// Cancel soft-deletes a pending purchase. Terminal.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := shared.Transition(p.Status, shared.StatusCancelled); err != nil {
			return ErrNotEditable
		}
		return tx.MarkCancelled(ctx, id, actorID, reason)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "procurement:cancel", &Purchase{ID: id})
	return nil
}

// Get returns a purchase with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Purchase, error) {
	return s.repo.Get(ctx, id)
}

// List returns purchases matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, p *Purchase) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase",
		EntityID: fmt.Sprintf("%d", p.ID),
		Meta:     map[string]any{"ref": p.Ref},
	})
}
