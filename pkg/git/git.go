// Package git derives image tags from the state of a git work tree.
package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// DirtySuffix marks tags built from uncommitted changes. "~" is not valid in
// a docker tag, so a dash is used.
const DirtySuffix = "-dirty"

const shortCommitLen = 7

var ErrNoCommit = errors.New("repository has no commits")

// State is the part of a repository a tag is derived from.
type State struct {
	Dirty bool
	// TagName is a tag pointing at HEAD, if any.
	TagName string
	Commit  string
	// Ref is the full name of the checked out branch, empty when HEAD is detached.
	Ref string
}

// Tag is the tag at HEAD or the short commit, with DirtySuffix when the work tree is dirty.
func (s State) Tag() string {
	name := s.TagName
	if name == "" {
		name = s.Commit
		if len(name) > shortCommitLen {
			name = name[:shortCommitLen]
		}
	}
	if s.Dirty {
		return name + DirtySuffix
	}
	return name
}

// ReadState inspects the repository containing dir.
func ReadState(dir string) (State, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return State{}, fmt.Errorf("failed to open git repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return State{}, ErrNoCommit
		}
		return State{}, fmt.Errorf("failed to resolve HEAD reference: %w", err)
	}

	state := State{Commit: head.Hash().String()}
	if head.Name() != plumbing.HEAD {
		state.Ref = head.Name().String()
	}
	if state.TagName, err = tagAt(repo, head.Hash()); err != nil {
		return State{}, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return State{}, fmt.Errorf("failed to open work tree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return State{}, fmt.Errorf("failed to retrieve dirty status: %w", err)
	}
	state.Dirty = !status.IsClean()

	return state, nil
}

// tagAt returns the alphabetically first tag pointing at commit.
func tagAt(repo *gogit.Repository, commit plumbing.Hash) (string, error) {
	tags, err := repo.Tags()
	if err != nil {
		return "", fmt.Errorf("failed to list tags: %w", err)
	}
	var found string
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if obj, err := repo.TagObject(target); err == nil {
			c, err := obj.Commit()
			if err != nil {
				return nil
			}
			target = c.Hash
		}
		if target != commit {
			return nil
		}
		name := ref.Name().Short()
		if found == "" || name < found {
			found = name
		}
		return nil
	})
	return found, err
}
