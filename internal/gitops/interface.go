// Package gitops provides the git operations the merge controller needs:
// committing a goal worktree, pushing branches, and merging a goal's
// branch back into the condo's main line.
package gitops

// Runner defines the git operations used by the engine. The merge
// controller consumes this interface so tests can substitute a fake.
type Runner interface {
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch() (string, error)
	// BranchExists returns true if the branch exists locally.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error

	// HasChanges returns true if the worktree has uncommitted changes.
	HasChanges() (bool, error)
	// AddAll stages every change in the worktree.
	AddAll() error
	// Commit creates a commit with the given message.
	Commit(message string) error

	// HasRemote returns true if a remote named origin is configured.
	HasRemote() (bool, error)
	// Push pushes the branch to origin.
	Push(branch string) error

	// MergeNoFFMessage merges branch into the current branch with --no-ff
	// and the given commit message.
	MergeNoFFMessage(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)

	// AheadBehind returns how many commits branch is ahead of and behind
	// the base branch.
	AheadBehind(branch, base string) (ahead, behind int, err error)

	// WorktreeAddNewBranch creates a worktree at path with a new branch.
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove force-removes the worktree at path.
	WorktreeRemove(path string) error
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}
