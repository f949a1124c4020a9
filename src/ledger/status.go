package ledger

import "fmt"

// Status captures the consensus state of a Fact: Pending, Verified, Disputed,
// or Rejected. It is a closed enumeration; anything else is refused at the
// boundary by ParseStatus.
type Status uint32

const (
	//Pending is the initial status of a fact, before quorum is reached.
	Pending Status = iota
	//Verified means the weighted approval score cleared the verify threshold.
	Verified
	//Disputed means quorum was met but the score fell between the thresholds.
	Disputed
	//Rejected means the weighted approval score fell below the reject
	//threshold.
	Rejected
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Verified:
		return "verified"
	case Disputed:
		return "disputed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the soft-terminal states that
// trigger the one-time reputation adjustment.
func (s Status) Terminal() bool {
	return s == Verified || s == Rejected
}

// ParseStatus converts a string to a Status, rejecting anything outside the
// four defined values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "verified":
		return Verified, nil
	case "disputed":
		return Disputed, nil
	case "rejected":
		return Rejected, nil
	default:
		return Pending, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalJSON encodes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// UnmarshalJSON decodes the string form of a status.
func (s *Status) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("status is not a JSON string: %s", data)
	}
	parsed, err := ParseStatus(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
