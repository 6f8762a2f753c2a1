package numstock

import (
	"fmt"
	"time"
)

// Requirement asks for a quantity of numbers from one provider.
type Requirement struct {
	Provider Provider `json:"provider"`
	Quantity int      `json:"quantity"`
}

// Order is a customer request for numbers. Requirements are filled in the
// order given; a number reserved by an earlier requirement is not offered
// to later ones, so several requirements for the same provider never
// overlap.
type Order struct {
	Customer     string        `json:"customer"`
	Requirements []Requirement `json:"requirements"`
}

// Validate checks that the order names a customer and that every
// requirement has a provider and a positive quantity.
func (o Order) Validate() error {
	if o.Customer == "" {
		return fmt.Errorf("%w: customer cannot be empty", ErrInvalidOrder)
	}
	if len(o.Requirements) == 0 {
		return fmt.Errorf("%w: order has no requirements", ErrInvalidOrder)
	}
	for i, req := range o.Requirements {
		if req.Provider == "" {
			return fmt.Errorf("%w: requirement %d has no provider", ErrInvalidOrder, i)
		}
		if req.Quantity <= 0 {
			return fmt.Errorf("%w: requirement %d has non-positive quantity %d", ErrInvalidOrder, i, req.Quantity)
		}
	}
	return nil
}

// RequirementResult reports the outcome of one requirement. Shortage means
// fewer numbers were available than requested; the ones in Numbers are
// still reserved and recorded.
type RequirementResult struct {
	Provider  Provider `json:"provider"`
	Numbers   []string `json:"numbers"`
	Found     int      `json:"found"`
	Requested int      `json:"requested"`
	Shortage  bool     `json:"shortage"`
}

// OrderResult reports the outcome of a whole order. Requirements are in
// the same order as in the request. ProcessedAt is the instant recorded as
// sold_at for every reserved number.
type OrderResult struct {
	Customer     string              `json:"customer"`
	ProcessedAt  time.Time           `json:"processed_at"`
	Requirements []RequirementResult `json:"requirements"`
}

// Shortage reports whether any requirement came up short.
func (r *OrderResult) Shortage() bool {
	for _, req := range r.Requirements {
		if req.Shortage {
			return true
		}
	}
	return false
}

// Reserved returns every number reserved by the order, in requirement
// order.
func (r *OrderResult) Reserved() []string {
	var numbers []string
	for _, req := range r.Requirements {
		numbers = append(numbers, req.Numbers...)
	}
	return numbers
}

// PerProvider folds the requirement results into one entry per provider.
// Orders with several requirements for the same provider have their
// numbers concatenated and their counts summed.
func (r *OrderResult) PerProvider() map[Provider]RequirementResult {
	out := make(map[Provider]RequirementResult, len(r.Requirements))
	for _, req := range r.Requirements {
		agg := out[req.Provider]
		agg.Provider = req.Provider
		agg.Numbers = append(agg.Numbers, req.Numbers...)
		agg.Found += req.Found
		agg.Requested += req.Requested
		agg.Shortage = agg.Shortage || req.Shortage
		out[req.Provider] = agg
	}
	return out
}
