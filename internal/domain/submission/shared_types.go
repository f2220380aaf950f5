package submission

// Kind identifies the SMS form a submission was sent with.
type Kind string

const (
	KindIbitumbwe  Kind = "ibitumbwe"  // daily cherry purchases and cash
	KindTwakinze   Kind = "twakinze"   // daily "closed" report, exclusive with ibitumbwe
	KindAmafaranga Kind = "amafaranga" // weekly cash movements
	KindSitoki     Kind = "sitoki"     // weekly stock
)

var Kinds = []Kind{KindIbitumbwe, KindTwakinze, KindAmafaranga, KindSitoki}

func (k Kind) IsWeekly() bool {
	return k == KindAmafaranga || k == KindSitoki
}

// State of a submission in the approval window.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
)

// Rule is the cross-kind guard applied before approving a submission.
// Exclusive names at most one kind: the pairing is between two kinds only.
type Rule struct {
	// Prerequisite must have an approved record dated before the submission's cutoff.
	Prerequisite Kind
	// Exclusive must not have an approved record on the submission's report day.
	Exclusive Kind
}

// Rules for the reporting kinds of the 2012 accounting scheme.
var Rules = map[Kind]Rule{
	KindIbitumbwe:  {Exclusive: KindTwakinze},
	KindTwakinze:   {Prerequisite: KindIbitumbwe, Exclusive: KindIbitumbwe},
	KindAmafaranga: {Prerequisite: KindIbitumbwe},
	KindSitoki:     {Prerequisite: KindIbitumbwe},
}

// DuplicateKinds lists the kinds a confirmed submission of k replaces for the same period.
func DuplicateKinds(k Kind, rules map[Kind]Rule) []Kind {
	kinds := []Kind{k}
	if r, ok := rules[k]; ok && r.Exclusive != "" && !k.IsWeekly() {
		kinds = append(kinds, r.Exclusive)
	}
	return kinds
}
