package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leanflow/internal/domain"
	"leanflow/internal/engine"
	"leanflow/internal/events"
	"leanflow/internal/mutlog"
)

var ErrNotFound = errors.New("not found")

// Repo persists engine snapshots. The unit of persistence is the whole
// snapshot: the work-item table, the commit DAG and the audit trail are
// written together in one transaction.
type Repo struct {
	DB *sql.DB
}

// SaveSnapshot replaces the stored snapshot with st.
func (r Repo) SaveSnapshot(ctx context.Context, st engine.State) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"work_items", "commits", "branches", "blobs", "operations", "events", "meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, item := range st.Items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", item.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,position,payload_json) VALUES (?,?,?)`,
			item.ID, i, string(payload)); err != nil {
			return fmt.Errorf("insert item %s: %w", item.ID, err)
		}
	}
	for _, c := range st.Log.Commits {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal commit %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO commits(id,payload_json) VALUES (?,?)`,
			c.ID, string(payload)); err != nil {
			return fmt.Errorf("insert commit %s: %w", c.ID, err)
		}
	}
	for _, b := range st.Log.Branches {
		if _, err := tx.ExecContext(ctx, `INSERT INTO branches(name,head_commit_id) VALUES (?,?)`,
			b.Name, b.HeadCommitID); err != nil {
			return fmt.Errorf("insert branch %s: %w", b.Name, err)
		}
	}
	for hash, content := range st.Log.Blobs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO blobs(hash,content) VALUES (?,?)`,
			hash, content); err != nil {
			return fmt.Errorf("insert blob %s: %w", hash, err)
		}
	}
	for i, op := range st.Log.Operations {
		payload, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("marshal operation %s: %w", op.ID, err)
		}
		seq := st.Log.OpSeqs[op.ID]
		if _, err := tx.ExecContext(ctx, `INSERT INTO operations(id,position,base_seq,commit_seq,payload_json) VALUES (?,?,?,?,?)`,
			op.ID, i, seq.Base, seq.Commit, string(payload)); err != nil {
			return fmt.Errorf("insert operation %s: %w", op.ID, err)
		}
	}
	for _, evt := range st.Events {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", evt.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(id,ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
			evt.ID, evt.TS.Format(time.RFC3339Nano), evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID, string(payload)); err != nil {
			return fmt.Errorf("insert event %d: %w", evt.ID, err)
		}
	}

	meta := map[string]any{
		"branch":      st.Log.Branch,
		"author":      st.Log.Author,
		"sequence":    st.Log.Sequence,
		"weights":     st.Weights,
		"cycle_trend": st.CycleTrend,
		"flow_trend":  st.FlowTrend,
	}
	for key, value := range meta {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal meta %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key,value_json) VALUES (?,?)`,
			key, string(data)); err != nil {
			return fmt.Errorf("insert meta %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// LoadSnapshot reads the stored snapshot. The second return is false
// when the workspace has never been persisted.
func (r Repo) LoadSnapshot(ctx context.Context) (engine.State, bool, error) {
	var st engine.State

	var branchCount int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM branches`).Scan(&branchCount); err != nil {
		return st, false, err
	}
	if branchCount == 0 {
		return st, false, nil
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM work_items ORDER BY position`)
	if err != nil {
		return st, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return st, false, err
		}
		var item domain.WorkItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return st, false, fmt.Errorf("unmarshal item: %w", err)
		}
		st.Items = append(st.Items, item)
	}
	if err := rows.Err(); err != nil {
		return st, false, err
	}

	st.Log.Blobs = make(map[string][]byte)
	st.Log.OpSeqs = make(map[string]mutlog.OpSeq)

	commitRows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM commits`)
	if err != nil {
		return st, false, err
	}
	defer commitRows.Close()
	for commitRows.Next() {
		var payload string
		if err := commitRows.Scan(&payload); err != nil {
			return st, false, err
		}
		var c domain.Commit
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return st, false, fmt.Errorf("unmarshal commit: %w", err)
		}
		st.Log.Commits = append(st.Log.Commits, c)
	}
	if err := commitRows.Err(); err != nil {
		return st, false, err
	}

	branchRows, err := r.DB.QueryContext(ctx, `SELECT name,head_commit_id FROM branches`)
	if err != nil {
		return st, false, err
	}
	defer branchRows.Close()
	for branchRows.Next() {
		var b domain.Branch
		if err := branchRows.Scan(&b.Name, &b.HeadCommitID); err != nil {
			return st, false, err
		}
		st.Log.Branches = append(st.Log.Branches, b)
	}
	if err := branchRows.Err(); err != nil {
		return st, false, err
	}

	blobRows, err := r.DB.QueryContext(ctx, `SELECT hash,content FROM blobs`)
	if err != nil {
		return st, false, err
	}
	defer blobRows.Close()
	for blobRows.Next() {
		var hash string
		var content []byte
		if err := blobRows.Scan(&hash, &content); err != nil {
			return st, false, err
		}
		st.Log.Blobs[hash] = content
	}
	if err := blobRows.Err(); err != nil {
		return st, false, err
	}

	opRows, err := r.DB.QueryContext(ctx, `SELECT payload_json,base_seq,commit_seq FROM operations ORDER BY position`)
	if err != nil {
		return st, false, err
	}
	defer opRows.Close()
	for opRows.Next() {
		var payload string
		var seq mutlog.OpSeq
		if err := opRows.Scan(&payload, &seq.Base, &seq.Commit); err != nil {
			return st, false, err
		}
		var op domain.AtomicOperation
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return st, false, fmt.Errorf("unmarshal operation: %w", err)
		}
		st.Log.Operations = append(st.Log.Operations, op)
		st.Log.OpSeqs[op.ID] = seq
	}
	if err := opRows.Err(); err != nil {
		return st, false, err
	}

	eventRows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events ORDER BY id`)
	if err != nil {
		return st, false, err
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var entry events.Entry
		var ts, payload string
		var actor sql.NullString
		if err := eventRows.Scan(&entry.ID, &ts, &entry.Type, &entry.EntityKind, &entry.EntityID, &actor, &payload); err != nil {
			return st, false, err
		}
		entry.ActorID = actor.String
		if entry.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return st, false, fmt.Errorf("parse event ts: %w", err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
				return st, false, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		st.Events = append(st.Events, entry)
	}
	if err := eventRows.Err(); err != nil {
		return st, false, err
	}

	if err := r.loadMeta(ctx, "branch", &st.Log.Branch); err != nil {
		return st, false, err
	}
	if err := r.loadMeta(ctx, "author", &st.Log.Author); err != nil {
		return st, false, err
	}
	if err := r.loadMeta(ctx, "sequence", &st.Log.Sequence); err != nil {
		return st, false, err
	}
	if err := r.loadMeta(ctx, "weights", &st.Weights); err != nil {
		return st, false, err
	}
	if err := r.loadMeta(ctx, "cycle_trend", &st.CycleTrend); err != nil {
		return st, false, err
	}
	if err := r.loadMeta(ctx, "flow_trend", &st.FlowTrend); err != nil {
		return st, false, err
	}
	return st, true, nil
}

func (r Repo) loadMeta(ctx context.Context, key string, out any) error {
	var data string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM meta WHERE key=?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	return nil
}
