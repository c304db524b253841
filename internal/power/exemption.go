package power

import "errors"

// ExemptionResult is the outcome of RequestExemption.
type ExemptionResult int

const (
	// AlreadyExempt means the process already holds an inhibitor.
	AlreadyExempt ExemptionResult = iota
	// Exempted means a new inhibitor was acquired.
	Exempted
	// ExemptionUnsupported means the user must change power settings by hand.
	ExemptionUnsupported
)

// RequestExemption keeps the machine from sleeping for as long as i is
// held, which is what the service needs to keep answering requests.
// Errors other than ErrUnsupported are returned as is.
func RequestExemption(i *Inhibitor) (ExemptionResult, error) {
	if i.Held() {
		return AlreadyExempt, nil
	}
	err := i.Acquire()
	switch {
	case err == nil:
		return Exempted, nil
	case errors.Is(err, ErrUnsupported):
		return ExemptionUnsupported, nil
	default:
		return ExemptionUnsupported, err
	}
}
