package gitops

import (
	"fmt"
	"os/exec"
	"strings"
)

// GHOpener opens pull requests through the gh CLI.
type GHOpener struct{}

// NewGHOpener creates a gh-backed pull request opener.
func NewGHOpener() *GHOpener {
	return &GHOpener{}
}

// OpenPR opens a pull request for branch from the repository at dir and
// returns the PR URL printed by gh.
func (o *GHOpener) OpenPR(dir, branch, title string) (string, error) {
	cmd := exec.Command("gh", "pr", "create", "--head", branch, "--title", title, "--body", "")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gh pr create: %w: %s", err, string(out))
	}
	// gh prints the PR URL as the last line of output.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}
