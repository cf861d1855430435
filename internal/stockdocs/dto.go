package stockdocs

// createRequest is the JSON body for creating a stock document.
type createRequest struct {
	BranchID   int64         `json:"branch_id" validate:"required,gt=0"`
	ToBranchID *int64        `json:"to_branch_id,omitempty"`
	Note       string        `json:"note" validate:"max=500"`
	RequestID  string        `json:"request_id,omitempty"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	Barcode   string  `json:"barcode" validate:"max=64"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
	Direction string  `json:"direction,omitempty" validate:"omitempty,oneof=POSITIVE NEGATIVE"`
	Note      string  `json:"note" validate:"max=500"`
}

type updateRequest struct {
	Note  string        `json:"note" validate:"max=500"`
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r createRequest) toInput(docType DocType, actorID int64) CreateInput {
	in := CreateInput{
		Type:       docType,
		BranchID:   r.BranchID,
		ToBranchID: r.ToBranchID,
		Note:       r.Note,
		RequestID:  r.RequestID,
		ActorID:    actorID,
		Lines:      make([]LineInput, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, l.toInput())
	}
	return in
}

func (r updateRequest) toInput(actorID int64) UpdateInput {
	in := UpdateInput{Note: r.Note, ActorID: actorID, Lines: make([]LineInput, 0, len(r.Lines))}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, l.toInput())
	}
	return in
}

func (l lineRequest) toInput() LineInput {
	return LineInput{
		ProductID: l.ProductID,
		VariantID: l.VariantID,
		Barcode:   l.Barcode,
		Quantity:  l.Quantity,
		UnitCost:  l.UnitCost,
		Direction: AdjustDirection(l.Direction),
		Note:      l.Note,
	}
}
