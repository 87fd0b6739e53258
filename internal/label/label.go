// Package label defines the closed set of conversation labels.
package label

import "fmt"

// Label is a single-valued tag attached to a conversation.
type Label string

const (
	None            Label = ""
	PaymentDone     Label = "payment_done"
	Processing      Label = "processing"
	DealDone        Label = "deal_done"
	RegularCustomer Label = "regular_customer"
)

var displayNames = map[Label]string{
	PaymentDone:     "Payment Done",
	Processing:      "Processing",
	DealDone:        "Deal Done",
	RegularCustomer: "Regular Customer",
}

// All returns every assignable label, excluding None.
func All() []Label {
	return []Label{PaymentDone, Processing, DealDone, RegularCustomer}
}

// Parse validates a raw label value. The empty string parses to None,
// which clears the label.
func Parse(s string) (Label, error) {
	l := Label(s)
	if l == None {
		return None, nil
	}
	if _, ok := displayNames[l]; !ok {
		return None, fmt.Errorf("unknown label %q", s)
	}
	return l, nil
}

// DisplayName returns the human-readable form, or "" for None.
func (l Label) DisplayName() string {
	return displayNames[l]
}

// String implements fmt.Stringer.
func (l Label) String() string {
	return string(l)
}
