package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Proposal statuses.
const (
	ProposalProposed  = "proposed"
	ProposalAccepted  = "accepted"
	ProposalDismissed = "dismissed"
)

// Proposal represents an AI enrichment proposal for a task
type Proposal struct {
	ID               string
	TaskID           string
	UserID           string
	Status           string // proposed, accepted, dismissed
	EstimatedMinutes int    // 0 = none proposed
	Category         string
	Subtasks         string // JSON array of titles
	Reasoning        string
	CreatedAt        int64 // unix ms
	UpdatedAt        int64 // unix ms
	AppliedAt        int64 // unix ms, 0 = not applied
}

const proposalColumns = `id, task_id, user_id, status, estimated_minutes, category,
       subtasks, reasoning, created_at, updated_at, applied_at`

// CreateProposal inserts a new enrichment proposal
func (s *Store) CreateProposal(p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = now
	}
	if p.Subtasks == "" {
		p.Subtasks = "[]"
	}

	query := `
	INSERT INTO enrichment_proposals (` + proposalColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		p.ID, p.TaskID, p.UserID, p.Status,
		nullIntN(p.EstimatedMinutes), nullStr(p.Category),
		p.Subtasks, p.Reasoning,
		p.CreatedAt, p.UpdatedAt, nullInt(p.AppliedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal owned by userID, or nil if absent
func (s *Store) GetProposal(userID, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+proposalColumns+` FROM enrichment_proposals WHERE id = ? AND user_id = ?`, id, userID)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// GetAcceptedProposal returns the most recently accepted proposal for a task, or nil
func (s *Store) GetAcceptedProposal(taskID string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
	SELECT `+proposalColumns+` FROM enrichment_proposals
	WHERE task_id = ? AND status = ? ORDER BY updated_at DESC LIMIT 1
	`, taskID, ProposalAccepted)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get accepted proposal: %w", err)
	}
	return p, nil
}

// ListProposals retrieves proposals for a task, newest first
func (s *Store) ListProposals(userID, taskID string) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
	SELECT `+proposalColumns+` FROM enrichment_proposals
	WHERE task_id = ? AND user_id = ? ORDER BY created_at DESC
	`, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// SetProposalStatus transitions a proposal's status, stamping applied_at for acceptance
func (s *Store) SetProposalStatus(userID, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	applied := sql.NullInt64{}
	if status == ProposalAccepted {
		applied = sql.NullInt64{Int64: now, Valid: true}
	}

	result, err := s.db.Exec(`
	UPDATE enrichment_proposals SET status = ?, updated_at = ?, applied_at = COALESCE(?, applied_at)
	WHERE id = ? AND user_id = ?
	`, status, now, applied, id, userID)
	if err != nil {
		return fmt.Errorf("failed to set proposal status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("proposal not found: %s", id)
	}
	return nil
}

func scanProposal(row rowScanner) (*Proposal, error) {
	p := &Proposal{}
	var estMinutes, appliedAt sql.NullInt64
	var category sql.NullString

	err := row.Scan(
		&p.ID, &p.TaskID, &p.UserID, &p.Status,
		&estMinutes, &category, &p.Subtasks, &p.Reasoning,
		&p.CreatedAt, &p.UpdatedAt, &appliedAt,
	)
	if err != nil {
		return nil, err
	}

	if estMinutes.Valid {
		p.EstimatedMinutes = int(estMinutes.Int64)
	}
	if category.Valid {
		p.Category = category.String
	}
	if appliedAt.Valid {
		p.AppliedAt = appliedAt.Int64
	}
	return p, nil
}
