package dj

import (
	"fmt"
	"sync"

	"Bt2Deck/core/audio"
	"Bt2Deck/core/auth"
	"Bt2Deck/logger"

	"github.com/google/uuid"
)

// managedSession 会话及其控制口令哈希
type managedSession struct {
	session     *Session
	controlHash string
}

// SessionManager 会话管理器：创建、查找、授权与销毁DJ会话
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession

	factory   audio.SourceFactory
	waveforms WaveformProvider
	params    Params
}

// NewSessionManager 创建会话管理器
func NewSessionManager(factory audio.SourceFactory, waveforms WaveformProvider, params Params) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*managedSession),
		factory:   factory,
		waveforms: waveforms,
		params:    params,
	}
}

// Create 创建新会话。controlPassword 非空时后续控制台连接需口令授权。
func (m *SessionManager) Create(name, controlPassword string, sink FrameSink) (*Session, error) {
	id := uuid.New().String()

	var hash string
	if controlPassword != "" {
		var err error
		hash, err = auth.HashPassword(controlPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to hash control password: %w", err)
		}
	}

	session := NewSession(id, name, m.factory, m.waveforms, sink, m.params)

	m.mu.Lock()
	m.sessions[id] = &managedSession{session: session, controlHash: hash}
	m.mu.Unlock()

	logger.Info("dj session created",
		logger.String("session", id),
		logger.String("name", name),
		logger.Bool("protected", hash != ""))
	return session, nil
}

// Get 按ID查找会话，不存在时返回nil
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ms, ok := m.sessions[id]; ok {
		return ms.session
	}
	return nil
}

// Authorize 校验会话控制口令。未设口令的会话任何人可控制。
func (m *SessionManager) Authorize(id, password string) error {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if ms.controlHash == "" {
		return nil
	}
	if !auth.CheckPasswordHash(password, ms.controlHash) {
		return fmt.Errorf("invalid control password for session %s", id)
	}
	return nil
}

// Close 销毁会话并移除
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	ms.session.Cleanup()
	return nil
}

// CloseAll 销毁所有会话，服务关闭时调用
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms)
	}
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, ms := range sessions {
		ms.session.Cleanup()
	}
	logger.Info("all dj sessions closed", logger.Int("count", len(sessions)))
}

// Count 返回活跃会话数
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
