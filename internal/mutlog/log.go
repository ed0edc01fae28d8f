// Package mutlog owns the authoritative version history of named byte blobs:
// a commit/branch DAG written through by atomic, conflict-checked operations.
// All state is in memory; a single mutex serializes the branch head and the
// path->hash table so no partial commit is ever observable.
package mutlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"leanflow/internal/domain"
)

const DefaultBranch = "main"

// Log is the mutation log. Construct with New; the zero value is not usable.
type Log struct {
	Now func() time.Time

	mu       sync.Mutex
	author   string
	branch   string
	seq      int // logical commit counter, root = 0
	commits  map[string]*commitRecord
	branches map[string]string // name -> head commit id
	blobs    map[string][]byte // content hash -> content
	ops      map[string]*opRecord
	opOrder  []string
}

type commitRecord struct {
	id        string
	parentIDs []string
	author    string
	timestamp time.Time
	message   string
	changes   map[string]*string
}

type opRecord struct {
	id          string
	changes     []FileChange
	deps        []string
	status      OpStatus
	createdAt   time.Time
	completedAt *time.Time
	commitID    string
	err         string
	baseSeq     int // commit counter when the op was created
	commitSeq   int // commit counter assigned when the op committed
}

// Domain aliases keep method signatures concise while exposing domain
// types from this package.
type (
	FileChange      = domain.FileChange
	AtomicOperation = domain.AtomicOperation
	Commit          = domain.Commit
	Branch          = domain.Branch
	OpStatus        = domain.OpStatus
)

const (
	opPending    = domain.OpPending
	opExecuting  = domain.OpExecuting
	opCommitted  = domain.OpCommitted
	opFailed     = domain.OpFailed
	changeDelete = domain.ChangeDelete
)

// New builds a log with an empty root commit and the branch head pointing
// at it.
func New(branch, author string) *Log {
	if branch == "" {
		branch = DefaultBranch
	}
	if author == "" {
		author = "leanflow"
	}
	l := &Log{
		Now:      time.Now,
		author:   author,
		branch:   branch,
		commits:  make(map[string]*commitRecord),
		branches: make(map[string]string),
		blobs:    make(map[string][]byte),
		ops:      make(map[string]*opRecord),
	}
	root := &commitRecord{
		id:        uuid.New().String(),
		author:    author,
		timestamp: l.now(),
		message:   "root",
		changes:   map[string]*string{},
	}
	l.commits[root.id] = root
	l.branches[branch] = root.id
	return l
}

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Branch returns the name of the branch commits are serialized onto.
func (l *Log) BranchName() string { return l.branch }

// Head returns the current head commit id of the default branch.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.branches[l.branch]
}

// CreateOperation registers a pending atomic operation and returns its id.
// It has no side effects on the version history.
func (l *Log) CreateOperation(changes []FileChange, deps []string) (string, error) {
	if len(changes) == 0 {
		return "", invalidf("operation has no changes")
	}
	for i, c := range changes {
		if c.Path == "" {
			return "", invalidf("change %d has empty path", i)
		}
		if !c.Type.Valid() {
			return "", invalidf("change %d has unknown type %q", i, c.Type)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	op := &opRecord{
		id:        uuid.New().String(),
		changes:   append([]FileChange(nil), changes...),
		deps:      dedupe(deps),
		status:    opPending,
		createdAt: l.now(),
		baseSeq:   l.seq,
	}
	l.ops[op.id] = op
	l.opOrder = append(l.opOrder, op.id)
	return op.id, nil
}

// AddDependencies declares additional dependencies on a pending operation.
// Committed and failed operations are immutable.
func (l *Log) AddDependencies(id string, deps ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.ops[id]
	if !ok {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if op.status != opPending {
		return invalidf("operation %s is %s, dependencies are frozen", id, op.status)
	}
	op.deps = dedupe(append(op.deps, deps...))
	return nil
}

// Execute applies a pending operation as a single new commit on the branch
// head. It returns false without error when the operation cannot commit for
// an expected reason: an uncommitted dependency, a path overwritten by a
// commit made after the operation was created (the loser of a race must
// re-query DetectConflicts and retry with adjusted content), or a status
// that is no longer pending. Failed operations keep the reason in their
// error field.
func (l *Log) Execute(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	op, ok := l.ops[id]
	if !ok {
		return false, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if op.status != opPending {
		return false, nil
	}
	op.status = opExecuting

	for _, dep := range op.deps {
		depOp, ok := l.ops[dep]
		if !ok || depOp.status != opCommitted {
			l.fail(op, fmt.Sprintf("dependency %s not committed", dep))
			return false, nil
		}
	}

	if winner, path := l.staleConflict(op); winner != "" {
		l.fail(op, fmt.Sprintf("conflict with operation %s on %s", winner, path))
		return false, nil
	}

	changes := make(map[string]*string, len(op.changes))
	for _, c := range op.changes {
		switch c.Type {
		case changeDelete:
			changes[c.Path] = nil
		default:
			h := hashContent(c.Content)
			l.blobs[h] = append([]byte(nil), c.Content...)
			hc := h
			changes[c.Path] = &hc
		}
	}

	head := l.branches[l.branch]
	commit := &commitRecord{
		id:        uuid.New().String(),
		parentIDs: []string{head},
		author:    l.author,
		timestamp: l.now(),
		message:   fmt.Sprintf("atomic operation %s", op.id),
		changes:   changes,
	}
	l.commits[commit.id] = commit
	l.branches[l.branch] = commit.id

	now := l.now()
	l.seq++
	op.status = opCommitted
	op.commitID = commit.id
	op.commitSeq = l.seq
	op.completedAt = &now
	return true, nil
}

func (l *Log) fail(op *opRecord, reason string) {
	now := l.now()
	op.status = opFailed
	op.err = reason
	op.completedAt = &now
}

// staleConflict returns the id and path of a committed operation that
// touched one of op's paths after op was created. Declared dependencies are
// exempt: depending on an operation means writing with its outcome in mind.
func (l *Log) staleConflict(op *opRecord) (string, string) {
	declared := make(map[string]bool, len(op.deps))
	for _, d := range op.deps {
		declared[d] = true
	}
	paths := make(map[string]bool, len(op.changes))
	for _, c := range op.changes {
		paths[c.Path] = true
	}
	for _, otherID := range l.opOrder {
		other := l.ops[otherID]
		if otherID == op.id || declared[otherID] {
			continue
		}
		if other.status != opCommitted || other.commitSeq <= op.baseSeq {
			continue
		}
		for _, c := range other.changes {
			if paths[c.Path] {
				return otherID, c.Path
			}
		}
	}
	return "", ""
}

func declaresDep(op *opRecord, id string) bool {
	for _, d := range op.deps {
		if d == id {
			return true
		}
	}
	return false
}

// DetectConflicts compares the named operation's path set against every
// other pending operation, plus operations that committed after this one
// was created (the conflicts Execute would fail on). Advisory only; the
// serialized commit step is what guarantees safety.
func (l *Log) DetectConflicts(id string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	op, ok := l.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	declared := make(map[string]bool, len(op.deps))
	for _, d := range op.deps {
		declared[d] = true
	}
	paths := make(map[string]bool, len(op.changes))
	for _, c := range op.changes {
		paths[c.Path] = true
	}
	var conflicts []string
	for _, otherID := range l.opOrder {
		if otherID == id || declared[otherID] {
			continue
		}
		other := l.ops[otherID]
		// The exemption holds in both directions, so the conflict
		// relation stays symmetric.
		if declaresDep(other, id) {
			continue
		}
		relevant := other.status == opPending ||
			(other.status == opCommitted && other.commitSeq > op.baseSeq)
		if !relevant {
			continue
		}
		for _, c := range other.changes {
			if paths[c.Path] {
				conflicts = append(conflicts, otherID)
				break
			}
		}
	}
	return conflicts, nil
}

// BatchExecute orders the requested operations by their declared
// dependencies (depth-first) and executes them in that order, collecting
// per-operation outcomes. A dependency cycle inside the batch is reported
// as ErrCycleFound before anything executes; a later failure never undoes
// an earlier success. Dependencies outside the batch are left to the
// committed-set check at execute time.
func (l *Log) BatchExecute(ids []string) (map[string]bool, error) {
	order, err := l.topoOrder(ids)
	if err != nil {
		return nil, err
	}
	results := make(map[string]bool, len(order))
	for _, id := range order {
		ok, err := l.Execute(id)
		if err != nil {
			return results, err
		}
		results[id] = ok
	}
	return results, nil
}

const (
	colorWhite = iota // unvisited
	colorGrey         // on the current DFS path
	colorBlack        // finished
)

func (l *Log) topoOrder(ids []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := l.ops[id]; !ok {
			return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
		}
		requested[id] = true
	}

	color := make(map[string]int, len(ids))
	var order []string
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case colorBlack:
			return nil
		case colorGrey:
			return cycleError(append(append([]string(nil), path...), id))
		}
		color[id] = colorGrey
		path = append(path, id)
		for _, dep := range l.ops[id].deps {
			if !requested[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[id] = colorBlack
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// FileContent resolves a path at the given commit (branch head when empty)
// by walking the commit's own changes and then its parent chain. The second
// return is false when the path does not exist at that commit.
func (l *Log) FileContent(path, commitID string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.resolveCommit(commitID)
	if err != nil {
		return nil, false, err
	}
	for c != nil {
		if hash, ok := c.changes[path]; ok {
			if hash == nil {
				return nil, false, nil
			}
			content := l.blobs[*hash]
			return append([]byte(nil), content...), true, nil
		}
		c = l.firstParent(c)
	}
	return nil, false, nil
}

// ListFiles returns the sorted paths present at the given commit (branch
// head when empty), accumulating adds and masking deletes down the parent
// chain.
func (l *Log) ListFiles(commitID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.resolveCommit(commitID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]bool)
	var files []string
	for c != nil {
		for path, hash := range c.changes {
			if resolved[path] {
				continue
			}
			resolved[path] = true
			if hash != nil {
				files = append(files, path)
			}
		}
		c = l.firstParent(c)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Log) resolveCommit(commitID string) (*commitRecord, error) {
	if commitID == "" {
		commitID = l.branches[l.branch]
	}
	c, ok := l.commits[commitID]
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", commitID, ErrNotFound)
	}
	return c, nil
}

// History is linear (single serialized writer); walks follow the first
// parent.
func (l *Log) firstParent(c *commitRecord) *commitRecord {
	if len(c.parentIDs) == 0 {
		return nil
	}
	return l.commits[c.parentIDs[0]]
}

// Operation returns a copy of the named operation.
func (l *Log) Operation(id string) (AtomicOperation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.ops[id]
	if !ok {
		return AtomicOperation{}, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	return op.export(), nil
}

// Operations returns copies of all operations in creation order.
func (l *Log) Operations() []AtomicOperation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AtomicOperation, 0, len(l.opOrder))
	for _, id := range l.opOrder {
		out = append(out, l.ops[id].export())
	}
	return out
}

// Commits returns every commit reachable from the branch head, newest
// first.
func (l *Log) Commits() []Commit {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Commit
	for c := l.commits[l.branches[l.branch]]; c != nil; c = l.firstParent(c) {
		out = append(out, c.export())
	}
	return out
}

func (op *opRecord) export() AtomicOperation {
	out := AtomicOperation{
		ID:           op.id,
		Changes:      append([]FileChange(nil), op.changes...),
		Dependencies: append([]string(nil), op.deps...),
		Status:       op.status,
		CreatedAt:    op.createdAt,
		CommitID:     op.commitID,
		Error:        op.err,
	}
	if op.completedAt != nil {
		t := *op.completedAt
		out.CompletedAt = &t
	}
	return out
}

func (c *commitRecord) export() Commit {
	changes := make(map[string]*string, len(c.changes))
	for path, hash := range c.changes {
		if hash == nil {
			changes[path] = nil
			continue
		}
		h := *hash
		changes[path] = &h
	}
	return Commit{
		ID:        c.id,
		ParentIDs: append([]string(nil), c.parentIDs...),
		Author:    c.author,
		Timestamp: c.timestamp,
		Message:   c.message,
		Changes:   changes,
	}
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
