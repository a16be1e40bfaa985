package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/observe"
)

const (
	sessionKeyPrefix  = "session:"
	activeSessionsKey = "active_sessions"
	cleanupInterval   = time.Minute
)

// ErrMaxSessions is returned when the server is at capacity.
var ErrMaxSessions = errors.New("maximum sessions reached")

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	deps     Deps
	logger   *slog.Logger
}

// NewManager creates a session manager. The registry is mirrored in Redis
// when it answers a ping; otherwise sessions live in memory only.
func NewManager(ctx context.Context, cfg *config.Config, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		deps.Logger.Warn("⚠️ Redis unavailable, keeping sessions in memory only", "addr", cfg.RedisURL, "err", err)
		_ = redisClient.Close()
		redisClient = nil
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		deps:     deps,
		logger:   deps.Logger,
	}
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	return sm.create(ctx, func(id string) *ClientSession {
		return NewClientSession(id, clientConn, sm.config, sm.deps)
	})
}

// CreateTwilioSession creates a new Twilio voice call session
func (sm *Manager) CreateTwilioSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	return sm.create(ctx, func(id string) *ClientSession {
		return NewTwilioClientSession(id, clientConn, sm.config, sm.deps)
	})
}

func (sm *Manager) create(ctx context.Context, build func(id string) *ClientSession) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	session := build(uuid.New().String())
	sm.storeSession(ctx, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, session *ClientSession) {
	sm.sessions[session.ID] = session
	sm.deps.Metrics.ActiveConnections.Add(ctx, 1)

	if sm.redis == nil {
		return
	}
	if err := sm.register(ctx, session); err != nil {
		sm.logger.Warn("⚠️ failed to register session in Redis", "session", session.ID, "err", err)
	}
}

// register writes the session hash and restarts its TTL. Live sessions are
// registered again on every cleanup tick so the hash outlives the timeout
// for as long as the session is in use.
func (sm *Manager) register(ctx context.Context, session *ClientSession) error {
	key := sessionKeyPrefix + session.ID
	_, err := sm.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.lastActivity().Format(time.RFC3339),
			"status":        "active",
			"is_twilio":     session.IsTwilio,
		})
		pipe.SAdd(ctx, activeSessionsKey, session.ID)
		pipe.Expire(ctx, key, sm.config.SessionTimeout)
		return nil
	})
	return err
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if !exists {
		return nil
	}
	session.Close()
	return sm.forget(ctx, sessionID)
}

func (sm *Manager) forget(ctx context.Context, sessionID string) error {
	sm.deps.Metrics.ActiveConnections.Add(ctx, -1)
	if sm.redis == nil {
		return nil
	}
	_, err := sm.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+sessionID)
		pipe.SRem(ctx, activeSessionsKey, sessionID)
		return nil
	})
	return err
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	now := time.Now()

	sm.mu.Lock()
	var stale, live []*ClientSession
	for id, session := range sm.sessions {
		if session.Idle(now) > sm.config.SessionTimeout {
			stale = append(stale, session)
			delete(sm.sessions, id)
		} else {
			live = append(live, session)
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		sm.logger.Info("🧹 closing inactive session", "session", session.ID)
		session.Close()
		if err := sm.forget(ctx, session.ID); err != nil {
			sm.logger.Warn("⚠️ failed to drop session from Redis", "session", session.ID, "err", err)
		}
	}

	if sm.redis == nil {
		return
	}
	for _, session := range live {
		if err := sm.register(ctx, session); err != nil {
			sm.logger.Warn("⚠️ failed to refresh session in Redis", "session", session.ID, "err", err)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ClientSession)
	sm.mu.Unlock()

	for id, session := range sessions {
		session.Close()
		if err := sm.forget(ctx, id); err != nil {
			sm.logger.Debug("session: drop from Redis on shutdown", "session", id, "err", err)
		}
	}

	if sm.redis != nil {
		_ = sm.redis.Close()
	}
}
