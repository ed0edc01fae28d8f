package engine

import (
	"leanflow/internal/domain"
	"leanflow/internal/events"
)

// CreateOperation registers a pending atomic operation in the mutation
// log and returns its id.
func (e *Engine) CreateOperation(changes []domain.FileChange, deps []string, actorID string) (string, error) {
	id, err := e.Log.CreateOperation(changes, deps)
	if err != nil {
		return "", err
	}
	e.Events.Append("op.created", "operation", id, actorID, events.Payload{
		"paths": pathsOf(changes),
		"deps":  deps,
	})
	return id, nil
}

// AddOperationDependencies declares extra dependencies on a pending
// operation.
func (e *Engine) AddOperationDependencies(id string, deps ...string) error {
	return e.Log.AddDependencies(id, deps...)
}

// ExecuteOperation drives one operation through the mutation log. False
// with a nil error means the operation did not commit; the reason is on
// the operation record.
func (e *Engine) ExecuteOperation(id, actorID string) (bool, error) {
	ok, err := e.Log.Execute(id)
	if err != nil {
		return false, err
	}
	e.Events.Append("op.executed", "operation", id, actorID, events.Payload{
		"committed": ok,
	})
	return ok, nil
}

// DetectConflicts reports the ids of operations whose path sets overlap
// with the named operation's. Advisory only.
func (e *Engine) DetectConflicts(id string) ([]string, error) {
	return e.Log.DetectConflicts(id)
}

// BatchExecuteOperations topologically orders the requested operations
// and executes them, collecting per-operation success.
func (e *Engine) BatchExecuteOperations(ids []string, actorID string) (map[string]bool, error) {
	results, err := e.Log.BatchExecute(ids)
	if err != nil {
		return nil, err
	}
	e.Events.Append("op.batch", "operation", "", actorID, events.Payload{
		"requested": len(ids),
		"results":   results,
	})
	return results, nil
}

// FileContent reads a file at a commit, defaulting to the branch head.
func (e *Engine) FileContent(path, commitID string) ([]byte, bool, error) {
	return e.Log.FileContent(path, commitID)
}

// ListFiles lists the files visible at a commit, defaulting to the head.
func (e *Engine) ListFiles(commitID string) ([]string, error) {
	return e.Log.ListFiles(commitID)
}

func (e *Engine) Operation(id string) (domain.AtomicOperation, error) {
	return e.Log.Operation(id)
}

func (e *Engine) Operations() []domain.AtomicOperation {
	return e.Log.Operations()
}

func (e *Engine) Commits() []domain.Commit {
	return e.Log.Commits()
}

func pathsOf(changes []domain.FileChange) []string {
	op := domain.AtomicOperation{Changes: changes}
	return op.Paths()
}
