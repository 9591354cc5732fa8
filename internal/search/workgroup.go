package search

// PickWorkGroup selects a representative work-group label from the
// candidate list. The first non-empty candidate wins.
func PickWorkGroup(candidates ...string) *string {
	for _, c := range candidates {
		if c != "" {
			wg := c
			return &wg
		}
	}
	return nil
}
