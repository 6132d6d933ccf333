package insights

// CoOccurrence returns the number of distinct sessions present in both
// inputs.
func CoOccurrence(rageSessions, errorSessions []string) int {
	if len(rageSessions) == 0 || len(errorSessions) == 0 {
		return 0
	}
	rage := make(map[string]struct{}, len(rageSessions))
	for _, s := range rageSessions {
		rage[s] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, s := range errorSessions {
		if _, ok := rage[s]; ok {
			seen[s] = struct{}{}
		}
	}
	return len(seen)
}
