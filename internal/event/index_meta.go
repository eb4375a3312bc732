package event

// CommitmentIDOf extracts the commitment_id carried by payload variants
// that have one, per the §4.3 "Payload variant → commitment_id" mapping.
func CommitmentIDOf(p Payload) (string, bool) {
	switch v := p.(type) {
	case CommitmentDeclared:
		return v.CommitmentID, true
	case CommitmentApproved:
		return v.CommitmentID, true
	case CommitmentDenied:
		return v.CommitmentID, true
	case CommitmentFulfilled:
		return v.CommitmentID, true
	case CommitmentFailed:
		return v.CommitmentID, true
	case ConsequenceObserved:
		return v.CommitmentID, true
	default:
		return "", false
	}
}

// PolicyIDOf extracts the policy_id carried by a PolicyEvaluated payload,
// per the §4.3 mapping table.
func PolicyIDOf(p Payload) (string, bool) {
	if v, ok := p.(PolicyEvaluated); ok {
		return v.PolicyID, true
	}
	return "", false
}

// InvariantIDOf extracts the invariant_id carried by an InvariantChecked
// payload, indexed under the same policy_id slot per §4.3 (the table maps
// InvariantChecked's invariant_id into the "policy_id" index column).
func InvariantIDOf(p Payload) (string, bool) {
	if v, ok := p.(InvariantChecked); ok {
		return v.InvariantID, true
	}
	return "", false
}
