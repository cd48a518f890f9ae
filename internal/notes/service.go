package notes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const bodyFile = "note.md"

// Revision describes one commit in a note's history.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service stores note bodies as single-file git repositories under a
// base directory, one repo per note. History is linear on main; every
// save is a commit.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureNoteRepo initializes the repo for a note with its first body
// commit. It is a no-op if the repo already exists.
func (s *Service) EnsureNoteRepo(noteID, body, author string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(noteID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, bodyFile), []byte(body), 0o644); err != nil {
		return fmt.Errorf("write initial body: %w", err)
	}
	if _, err := worktree.Add(bodyFile); err != nil {
		return fmt.Errorf("git add initial body: %w", err)
	}
	hash, err := worktree.Commit("Create note", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial body: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// SaveBody commits a new body revision on main and returns the commit.
func (s *Service) SaveBody(noteID, body, author, message string) (Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(noteID))
	if err != nil {
		return Revision{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, bodyFile), []byte(body), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write body: %w", err)
	}
	if _, err := worktree.Add(bodyFile); err != nil {
		return Revision{}, fmt.Errorf("git add body: %w", err)
	}

	if message == "" {
		message = "Update note"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit body: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// HeadBody returns the current body together with its head revision.
func (s *Service) HeadBody(noteID string) (string, Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(noteID))
	if err != nil {
		return "", Revision{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return "", Revision{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", Revision{}, fmt.Errorf("load commit object: %w", err)
	}

	body, err := readBodyFromCommit(commitObj)
	if err != nil {
		return "", Revision{}, err
	}
	return body, toRevision(commitObj), nil
}

// BodyAtRevision returns the body as of a given commit hash. Short
// hashes are resolved.
func (s *Service) BodyAtRevision(noteID, hash string) (string, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(noteID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readBodyFromCommit(commitObj)
}

// History lists revisions newest first, up to limit (0 = all).
func (s *Service) History(noteID string, limit int) ([]Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(noteID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// RemoveNoteRepo deletes the note's repository from disk.
func (s *Service) RemoveNoteRepo(noteID string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(noteID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(noteID string) string {
	return filepath.Join(s.baseDir, noteID)
}

func (s *Service) noteLock(noteID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[noteID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[noteID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.corpusgrid.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func readBodyFromCommit(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(bodyFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", bodyFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read body contents: %w", err)
	}
	return contents, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
