package lock

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess lets the request proceed with nothing else required.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeSuccessWithPrecedingCancellation lets the request proceed once the
	// locks listed in Outcome.Preceding are cancelled.
	OutcomeSuccessWithPrecedingCancellation

	// OutcomeCancel rejects the request.
	OutcomeCancel
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSuccessWithPrecedingCancellation:
		return "success_with_preceding_cancellation"
	case OutcomeCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Cancellation names an existing lock that must be released before a request
// may proceed.
type Cancellation struct {
	Boundary   Boundary
	Descriptor Descriptor

	// Strategy owns Descriptor. For composites this is the sub-strategy that
	// reported the cancellation.
	Strategy Strategy
}

// Outcome is the result of a coordination decision.
type Outcome struct {
	Kind OutcomeKind

	// Reason is set for Cancel and SuccessWithPrecedingCancellation. It is a
	// *ConflictError, or a join of them when several strategies contributed.
	Reason error

	// Preceding lists the locks to cancel for SuccessWithPrecedingCancellation.
	Preceding []Cancellation
}

// Succeed returns a plain success outcome.
func Succeed() Outcome { return Outcome{Kind: OutcomeSuccess} }

// SucceedCancelling returns a success that first requires cancelling preceding.
func SucceedCancelling(reason error, preceding ...Cancellation) Outcome {
	return Outcome{
		Kind:      OutcomeSuccessWithPrecedingCancellation,
		Reason:    reason,
		Preceding: preceding,
	}
}

// Reject returns a cancel outcome carrying reason.
func Reject(reason error) Outcome {
	return Outcome{Kind: OutcomeCancel, Reason: reason}
}

// Allowed reports whether the request may proceed.
func (o Outcome) Allowed() bool { return o.Kind != OutcomeCancel }

// IsSuccess reports whether the outcome is a plain success.
func (o Outcome) IsSuccess() bool { return o.Kind == OutcomeSuccess }

// IsCancel reports whether the outcome rejects the request.
func (o Outcome) IsCancel() bool { return o.Kind == OutcomeCancel }

// CancelsPreceding reports whether existing locks must be cancelled first.
func (o Outcome) CancelsPreceding() bool {
	return o.Kind == OutcomeSuccessWithPrecedingCancellation
}
