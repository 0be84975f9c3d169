package consensus

// ValidateCommitments enforces at most one commitment per drivechain id and
// checks each commitment's payload against the registry. The first
// duplicated id in set order is reported; duplicates are checked before
// payloads, so a duplicate is reported even when a payload is also malformed.
func ValidateCommitments(set CommitmentSet, registry *DrivechainRegistry) ValidationResult {
	if len(set) == 0 {
		return Valid()
	}
	if registry == nil {
		registry = DefaultDrivechainRegistry()
	}

	counts := make(map[string]int, len(set))
	for _, c := range set {
		counts[string(c.DrivechainID)]++
	}
	for _, c := range set {
		if counts[string(c.DrivechainID)] > 1 {
			return Invalid(DuplicateCommitment(c.DrivechainID))
		}
	}

	for _, c := range set {
		if err := registry.RuleFor(c.DrivechainID).CheckPayload(c.Payload); err != nil {
			return Invalid(MalformedCommitment(c.DrivechainID, err))
		}
	}
	return Valid()
}
