package orders

import salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"

type createRequest struct {
	BranchID     int64            `json:"branch_id" validate:"required,gt=0"`
	CustomerID   *int64           `json:"customer_id,omitempty"`
	Discount     float64          `json:"discount" validate:"gte=0"`
	DiscountType string           `json:"discount_type" validate:"omitempty,oneof=FIXED PERCENT"`
	TaxRate      float64          `json:"tax_rate" validate:"gte=0,lte=100"`
	Note         string           `json:"note" validate:"max=500"`
	Items        []itemRequest    `json:"items" validate:"required,min=1,dive"`
	Payments     []paymentRequest `json:"payments" validate:"dive"`
}

type itemRequest struct {
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	VariantID    int64   `json:"variant_id"`
	Kind         string  `json:"kind" validate:"required,oneof=PRODUCT SERVICE"`
	Barcode      string  `json:"barcode" validate:"max=64"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice    float64 `json:"unit_price" validate:"gte=0"`
	Discount     float64 `json:"discount" validate:"gte=0"`
	DiscountType string  `json:"discount_type" validate:"omitempty,oneof=FIXED PERCENT"`
	UnitCost     float64 `json:"unit_cost" validate:"gte=0"`
}

type paymentRequest struct {
	Method string  `json:"method" validate:"required,max=32"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r createRequest) toInput(kind Kind, actorID int64) CreateInput {
	in := CreateInput{
		Kind:         kind,
		BranchID:     r.BranchID,
		CustomerID:   r.CustomerID,
		Discount:     r.Discount,
		DiscountType: salesshared.DiscountType(r.DiscountType),
		TaxRate:      r.TaxRate,
		Note:         r.Note,
		ActorID:      actorID,
		Items:        make([]ItemInput, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		in.Items = append(in.Items, ItemInput{
			ProductID:    item.ProductID,
			VariantID:    item.VariantID,
			Kind:         ItemKind(item.Kind),
			Barcode:      item.Barcode,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Discount:     item.Discount,
			DiscountType: salesshared.DiscountType(item.DiscountType),
			UnitCost:     item.UnitCost,
		})
	}
	for _, p := range r.Payments {
		in.Payments = append(in.Payments, PaymentInput{Method: p.Method, Amount: p.Amount})
	}
	return in
}
