package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Manager 管理多个SQLite数据库连接，每个存储关注点一个文件
type Manager struct {
	databases map[string]*sql.DB
	mu        sync.RWMutex
	dbDir     string
}

// NewManager 创建数据库管理器
func NewManager(dbDir string) (*Manager, error) {
	if dbDir == "" {
		dbDir = "data"
	}
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}
	return &Manager{
		databases: make(map[string]*sql.DB),
		dbDir:     dbDir,
	}, nil
}

// Get 获取或创建指定名称的数据库连接
func (m *Manager) Get(name string) (*sql.DB, error) {
	m.mu.RLock()
	db, exists := m.databases[name]
	m.mu.RUnlock()
	if exists {
		return db, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, exists := m.databases[name]; exists {
		return db, nil
	}

	dbPath := filepath.Join(m.dbDir, name+".db")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath))
	if err != nil {
		return nil, fmt.Errorf("打开数据库 %s 失败: %w", name, err)
	}

	// SQLite单文件建议只用一个连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库 %s 连接测试失败: %w", name, err)
	}

	m.databases[name] = db
	return db, nil
}

// Close 关闭所有数据库连接
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, db := range m.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("关闭数据库 %s 失败: %w", name, err)
		}
		delete(m.databases, name)
	}
	return firstErr
}
