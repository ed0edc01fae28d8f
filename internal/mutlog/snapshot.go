package mutlog

import "fmt"

// State is a full copy of the log, the unit the snapshot store persists.
type State struct {
	Branch     string            `json:"branch"`
	Author     string            `json:"author"`
	Sequence   int               `json:"sequence"`
	Commits    []Commit          `json:"commits"`
	Branches   []Branch          `json:"branches"`
	Blobs      map[string][]byte `json:"blobs"`
	Operations []AtomicOperation `json:"operations"`
	OpSeqs     map[string]OpSeq  `json:"op_seqs,omitempty"`
}

// OpSeq carries an operation's logical position relative to the commit
// counter; it is bookkeeping for conflict detection, not part of the
// operation's caller-visible shape.
type OpSeq struct {
	Base   int `json:"base"`
	Commit int `json:"commit"`
}

// State exports a deep copy of the whole log.
func (l *Log) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := State{
		Branch:   l.branch,
		Author:   l.author,
		Sequence: l.seq,
		Blobs:    make(map[string][]byte, len(l.blobs)),
		OpSeqs:   make(map[string]OpSeq, len(l.ops)),
	}
	for hash, content := range l.blobs {
		st.Blobs[hash] = append([]byte(nil), content...)
	}
	for _, c := range l.commits {
		st.Commits = append(st.Commits, c.export())
	}
	for name, head := range l.branches {
		st.Branches = append(st.Branches, Branch{Name: name, HeadCommitID: head})
	}
	for _, id := range l.opOrder {
		op := l.ops[id]
		st.Operations = append(st.Operations, op.export())
		st.OpSeqs[id] = OpSeq{Base: op.baseSeq, Commit: op.commitSeq}
	}
	return st
}

// Restore rebuilds a log from a previously exported state.
func Restore(st State) (*Log, error) {
	l := New(st.Branch, st.Author)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.commits = make(map[string]*commitRecord, len(st.Commits))
	for _, c := range st.Commits {
		changes := make(map[string]*string, len(c.Changes))
		for path, hash := range c.Changes {
			if hash == nil {
				changes[path] = nil
				continue
			}
			h := *hash
			changes[path] = &h
		}
		l.commits[c.ID] = &commitRecord{
			id:        c.ID,
			parentIDs: append([]string(nil), c.ParentIDs...),
			author:    c.Author,
			timestamp: c.Timestamp,
			message:   c.Message,
			changes:   changes,
		}
	}
	l.branches = make(map[string]string, len(st.Branches))
	for _, b := range st.Branches {
		if _, ok := l.commits[b.HeadCommitID]; !ok {
			return nil, fmt.Errorf("branch %s head %s: %w", b.Name, b.HeadCommitID, ErrNotFound)
		}
		l.branches[b.Name] = b.HeadCommitID
	}
	if _, ok := l.branches[l.branch]; !ok {
		return nil, fmt.Errorf("branch %s: %w", l.branch, ErrNotFound)
	}
	l.blobs = make(map[string][]byte, len(st.Blobs))
	for hash, content := range st.Blobs {
		l.blobs[hash] = append([]byte(nil), content...)
	}
	l.seq = st.Sequence
	l.ops = make(map[string]*opRecord, len(st.Operations))
	l.opOrder = l.opOrder[:0]
	for _, op := range st.Operations {
		rec := &opRecord{
			id:        op.ID,
			changes:   append([]FileChange(nil), op.Changes...),
			deps:      append([]string(nil), op.Dependencies...),
			status:    op.Status,
			createdAt: op.CreatedAt,
			commitID:  op.CommitID,
			err:       op.Error,
			baseSeq:   st.OpSeqs[op.ID].Base,
			commitSeq: st.OpSeqs[op.ID].Commit,
		}
		if op.CompletedAt != nil {
			t := *op.CompletedAt
			rec.completedAt = &t
		}
		l.ops[rec.id] = rec
		l.opOrder = append(l.opOrder, rec.id)
	}
	return l, nil
}
