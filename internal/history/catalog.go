package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/0gfoundation/0g-inference-billing/internal/revenue"
)

// Model is a published model and its revenue split. Rows are owned by the
// publishing workflow; this service reads them and seeds them in tooling.
type Model struct {
	ID         string   `json:"modelId"`
	Name       string   `json:"name"`
	Owner      string   `json:"owner"`
	Creator    string   `json:"creator"`
	RoyaltyBps int      `json:"royaltyBps"`
	AgentID    int64    `json:"agentId"`
	Price      *big.Int `json:"price,omitempty"`
}

func (m Model) Split() revenue.SplitConfig {
	return revenue.SplitConfig{Owner: m.Owner, Creator: m.Creator, RoyaltyBps: m.RoyaltyBps}
}

// UpsertModel inserts or replaces a model row.
func (s *Store) UpsertModel(ctx context.Context, m Model) error {
	if m.ID == "" {
		return errors.New("model id is required")
	}
	if err := m.Split().Validate(); err != nil {
		return err
	}
	var price any
	if m.Price != nil {
		if !m.Price.IsInt64() || m.Price.Sign() < 0 {
			return fmt.Errorf("price %s out of range", m.Price)
		}
		price = m.Price.Int64()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO models (model_id, name, owner, creator, royalty_bps, agent_id, price_usdc)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (model_id) DO UPDATE SET
    name = excluded.name,
    owner = excluded.owner,
    creator = excluded.creator,
    royalty_bps = excluded.royalty_bps,
    agent_id = excluded.agent_id,
    price_usdc = excluded.price_usdc`,
		m.ID, m.Name, strings.ToLower(m.Owner), strings.ToLower(m.Creator), m.RoyaltyBps, m.AgentID, price)
	if err != nil {
		return fmt.Errorf("upsert model %s: %w", m.ID, err)
	}
	return nil
}

const modelColumns = "model_id, name, owner, creator, royalty_bps, agent_id, price_usdc"

func scanModel(row rowScanner) (Model, error) {
	var (
		m     Model
		price sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Owner, &m.Creator, &m.RoyaltyBps, &m.AgentID, &price); err != nil {
		return Model{}, err
	}
	if price.Valid {
		m.Price = big.NewInt(price.Int64)
	}
	return m, nil
}

// GetModel returns ErrModelNotFound for unknown ids.
func (s *Store) GetModel(ctx context.Context, id string) (*Model, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+modelColumns+" FROM models WHERE model_id = ?", id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, queryErr("model", err)
	}
	return &m, nil
}

// ModelsFor returns every model where wallet is owner or creator.
func (s *Store) ModelsFor(ctx context.Context, wallet string) ([]Model, error) {
	w := strings.ToLower(wallet)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+modelColumns+" FROM models WHERE owner = ? OR creator = ? ORDER BY model_id", w, w)
	if err != nil {
		return nil, queryErr("models", err)
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, queryErr("scan model", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("models", err)
	}
	return out, nil
}
