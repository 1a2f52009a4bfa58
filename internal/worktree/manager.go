// Package worktree gives each worker an isolated git worktree and merges
// worker branches back into the integration branch when a level completes.
package worktree

import (
	"bufio"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Info describes one worker's worktree.
type Info struct {
	Path     string // Absolute path to the worktree directory
	Branch   string // Branch name, e.g. "swarm/auth/worker-3"
	WorkerID int
	Feature  string
	Head     string // HEAD commit at creation time
}

// Result is the outcome of merging one worker branch.
type Result struct {
	Merged        bool
	ConflictFiles []string // Populated when the dry-run merge found conflicts
	Output        string   // Raw git output for the audit trail
}

// Config configures the Manager.
type Config struct {
	RepoPath     string // Absolute path to the git repository
	TargetBranch string // Integration branch worker branches merge into
	WorktreeDir  string // Directory under the repo for worktrees, default ".swarm/worktrees"
}

// Manager creates, merges, and removes worker worktrees. Merge operations
// are serialized because they all touch the main repository checkout.
type Manager struct {
	cfg     Config
	mergeMu sync.Mutex
}

// NewManager creates a worktree manager.
func NewManager(cfg Config) *Manager {
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = filepath.Join(".swarm", "worktrees")
	}
	if cfg.TargetBranch == "" {
		cfg.TargetBranch = "main"
	}
	return &Manager{cfg: cfg}
}

// BranchName returns the branch a worker commits to for a feature.
func BranchName(feature string, workerID int) string {
	return fmt.Sprintf("swarm/%s/worker-%d", feature, workerID)
}

func (m *Manager) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)", args[0], err, string(output))
	}
	return string(output), nil
}

// Create adds a worktree for the worker, branched from the target branch.
// Recreating an existing worker worktree tears the old one down first so a
// restarted run never inherits stale state.
func (m *Manager) Create(feature string, workerID int) (*Info, error) {
	branch := BranchName(feature, workerID)
	path := filepath.Join(m.cfg.RepoPath, m.cfg.WorktreeDir, "worker-"+strconv.Itoa(workerID))

	// Best-effort removal of leftovers from a previous run.
	_, _ = m.git(m.cfg.RepoPath, "worktree", "remove", "--force", path)
	_, _ = m.git(m.cfg.RepoPath, "branch", "-D", branch)

	if _, err := m.git(m.cfg.RepoPath, "worktree", "add", "-b", branch, path, m.cfg.TargetBranch); err != nil {
		return nil, fmt.Errorf("creating worktree for worker %d: %w", workerID, err)
	}

	head, err := m.git(path, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("reading worktree HEAD for worker %d: %w", workerID, err)
	}

	return &Info{
		Path:     path,
		Branch:   branch,
		WorkerID: workerID,
		Feature:  feature,
		Head:     strings.TrimSpace(head),
	}, nil
}

// Merge merges the worker branch into the target branch. Conflicts are
// detected with a dry-run merge-tree first so the main checkout is never
// left mid-merge; a conflicting branch reports Merged=false with the
// offending files, not an error.
func (m *Manager) Merge(info *Info) (*Result, error) {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	if _, err := m.git(m.cfg.RepoPath, "checkout", m.cfg.TargetBranch); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", m.cfg.TargetBranch, err)
	}

	detectOut, detectErr := m.git(m.cfg.RepoPath, "merge-tree", "--write-tree", m.cfg.TargetBranch, info.Branch)
	if detectErr != nil || strings.Contains(detectOut, "CONFLICT") {
		return &Result{
			Merged:        false,
			ConflictFiles: parseConflictFiles(detectOut),
			Output:        detectOut,
		}, nil
	}

	mergeOut, err := m.git(m.cfg.RepoPath, "merge", "--no-ff", "-m",
		fmt.Sprintf("Merge %s", info.Branch), info.Branch)
	if err != nil {
		// The dry run passed but the real merge did not. Abort so the
		// checkout is clean for the next attempt.
		_, _ = m.git(m.cfg.RepoPath, "merge", "--abort")
		return &Result{
			Merged:        false,
			ConflictFiles: parseConflictFiles(mergeOut),
			Output:        mergeOut,
		}, nil
	}

	return &Result{Merged: true, Output: mergeOut}, nil
}

// parseConflictFiles extracts conflicting paths from merge-tree output.
// Lines look like "CONFLICT (content): Merge conflict in <file>".
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "CONFLICT") && strings.Contains(line, "in ") {
			parts := strings.Split(line, "in ")
			conflicts = append(conflicts, strings.TrimSpace(parts[len(parts)-1]))
		}
	}
	return conflicts
}

// Cleanup removes the worktree and its branch, escalating to force flags
// only when the polite forms fail.
func (m *Manager) Cleanup(info *Info) error {
	var errs []string

	if _, err := m.git(m.cfg.RepoPath, "worktree", "remove", info.Path); err != nil {
		if _, forceErr := m.git(m.cfg.RepoPath, "worktree", "remove", "--force", info.Path); forceErr != nil {
			errs = append(errs, forceErr.Error())
		}
	}
	if _, err := m.git(m.cfg.RepoPath, "branch", "-d", info.Branch); err != nil {
		if _, forceErr := m.git(m.cfg.RepoPath, "branch", "-D", info.Branch); forceErr != nil {
			errs = append(errs, forceErr.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup of worker %d worktree: %s", info.WorkerID, strings.Join(errs, "; "))
	}
	return nil
}

// ForceCleanup removes the worktree and branch unconditionally. Used when
// tearing down after a failed or aborted run.
func (m *Manager) ForceCleanup(info *Info) error {
	var errs []string

	if _, err := m.git(m.cfg.RepoPath, "worktree", "remove", "--force", info.Path); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := m.git(m.cfg.RepoPath, "branch", "-D", info.Branch); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("force cleanup of worker %d worktree: %s", info.WorkerID, strings.Join(errs, "; "))
	}
	return nil
}

// List returns swarm worker worktrees currently registered in the repo.
func (m *Manager) List() ([]Info, error) {
	output, err := m.git(m.cfg.RepoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Info
	var current Info

	flush := func() {
		if current.Path != "" && current.WorkerID > 0 {
			worktrees = append(worktrees, current)
		}
		current = Info{}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			current.Branch = branch
			current.Feature, current.WorkerID = parseBranch(branch)
		}
	}
	flush()

	return worktrees, nil
}

// parseBranch recovers the feature and worker id from a swarm branch name.
// Returns a zero worker id for branches that are not ours.
func parseBranch(branch string) (string, int) {
	parts := strings.Split(branch, "/")
	if len(parts) != 3 || parts[0] != "swarm" || !strings.HasPrefix(parts[2], "worker-") {
		return "", 0
	}
	id, err := strconv.Atoi(strings.TrimPrefix(parts[2], "worker-"))
	if err != nil {
		return "", 0
	}
	return parts[1], id
}

// Prune drops stale worktree metadata left by crashed runs.
func (m *Manager) Prune() error {
	_, err := m.git(m.cfg.RepoPath, "worktree", "prune")
	return err
}
