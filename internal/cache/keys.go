package cache

// Key layout. Patterns below must stay in sync with the builders: pattern
// invalidation matches on these prefixes.
const (
	progressPrefix = "progress:"
	checkPrefix    = "depcheck:"
	treePrefix     = "tree:"
	lockPrefix     = "lock:cascade:"
)

func ProgressKey(userID, milestoneID string) string {
	return progressPrefix + userID + ":" + milestoneID
}

func CheckKey(userID, milestoneID string) string {
	return checkPrefix + userID + ":" + milestoneID
}

func TreeKey(userID string) string {
	return treePrefix + userID
}

func CascadeLockKey(userID, milestoneID string) string {
	return lockPrefix + userID + ":" + milestoneID
}

// UserCheckPattern matches every dependency-check entry of one user.
func UserCheckPattern(userID string) string {
	return checkPrefix + userID + ":*"
}

// MilestoneCheckPattern matches every user's dependency-check entry for one
// milestone. Used when the edge set around a milestone changes.
func MilestoneCheckPattern(milestoneID string) string {
	return checkPrefix + "*:" + milestoneID
}
