package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"backend/pkg/db"
	"backend/pkg/trader"
)

// StateStorage Agent账本的持久化（不透明的load/save契约）。
// 每个Agent一行，整个Agent状态序列化为JSON存放。
type StateStorage struct {
	db *sql.DB
}

// NewStateStorage 创建Agent状态存储
func NewStateStorage(manager *db.Manager) (*StateStorage, error) {
	conn, err := manager.Get("agent_state")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS agent_state (
		agent_id   TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("初始化agent_state表失败: %w", err)
	}
	return &StateStorage{db: conn}, nil
}

// Save 保存单个Agent的完整状态
func (s *StateStorage) Save(a *trader.Agent) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("序列化Agent %s 状态失败: %w", a.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_state (agent_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		a.ID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("保存Agent %s 状态失败: %w", a.ID, err)
	}
	return nil
}

// Load 按ID加载Agent状态；不存在返回 (nil, nil)
func (s *StateStorage) Load(agentID string) (*trader.Agent, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM agent_state WHERE agent_id = ?`, agentID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取Agent %s 状态失败: %w", agentID, err)
	}

	var agent trader.Agent
	if err := json.Unmarshal([]byte(payload), &agent); err != nil {
		return nil, fmt.Errorf("反序列化Agent %s 状态失败: %w", agentID, err)
	}
	if agent.Portfolio.Positions == nil {
		agent.Portfolio.Positions = make(map[string]*trader.Position)
	}
	if agent.Cooldowns == nil {
		agent.Cooldowns = trader.NewCooldownTracker()
	}
	return &agent, nil
}

// Delete 删除Agent状态（重置时使用）
func (s *StateStorage) Delete(agentID string) error {
	if _, err := s.db.Exec(`DELETE FROM agent_state WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("删除Agent %s 状态失败: %w", agentID, err)
	}
	return nil
}
