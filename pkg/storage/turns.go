package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"backend/pkg/db"
	"backend/pkg/logger"
)

// TurnStorage 回合记录的持久化，供API历史查询使用。
// Agent内存中的环形缓冲只保留最近若干条，完整历史落在这里。
type TurnStorage struct {
	db *sql.DB
}

// NewTurnStorage 创建回合记录存储
func NewTurnStorage(manager *db.Manager) (*TurnStorage, error) {
	conn, err := manager.Get("turn_records")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS turn_records (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id       TEXT NOT NULL,
		cycle          INTEGER NOT NULL,
		timestamp      INTEGER NOT NULL,
		prompt         TEXT,
		decisions_json TEXT,
		notes_json     TEXT,
		success        INTEGER NOT NULL,
		error_message  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turn_agent_time ON turn_records(agent_id, timestamp DESC)`
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("初始化turn_records表失败: %w", err)
	}
	return &TurnStorage{db: conn}, nil
}

// Save 追加一条回合记录
func (s *TurnStorage) Save(agentID string, rec logger.TurnRecord) error {
	notes, err := json.Marshal(rec.Notes)
	if err != nil {
		return fmt.Errorf("序列化回合注记失败: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO turn_records (agent_id, cycle, timestamp, prompt, decisions_json, notes_json, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID, rec.Cycle, rec.Timestamp.UnixMilli(), rec.Prompt, rec.DecisionsJSON,
		string(notes), boolToInt(rec.Success), rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("保存回合记录失败: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回某Agent最近limit条回合记录
func (s *TurnStorage) Recent(agentID string, limit int) ([]logger.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT cycle, timestamp, prompt, decisions_json, notes_json, success, error_message
		FROM turn_records WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询回合记录失败: %w", err)
	}
	defer rows.Close()

	var records []logger.TurnRecord
	for rows.Next() {
		var rec logger.TurnRecord
		var ts int64
		var notesJSON string
		var success int
		if err := rows.Scan(&rec.Cycle, &ts, &rec.Prompt, &rec.DecisionsJSON, &notesJSON, &success, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("读取回合记录失败: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts)
		rec.Success = success == 1
		if notesJSON != "" {
			_ = json.Unmarshal([]byte(notesJSON), &rec.Notes)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteByAgent 删除某Agent的全部回合记录（重置时使用）
func (s *TurnStorage) DeleteByAgent(agentID string) error {
	if _, err := s.db.Exec(`DELETE FROM turn_records WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("删除Agent %s 回合记录失败: %w", agentID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
