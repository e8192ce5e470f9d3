package gateway

import (
	"sync"

	"github.com/meshrtc/engine/pkg/engine"
	"github.com/sirupsen/logrus"
)

// Sessions multiplexes several session engines inside one process,
// creating them on demand when the first peer of a session connects.
type Sessions struct {
	mutex          sync.Mutex
	engines        map[string]*engine.Engine
	displayManager bool
	logger         *logrus.Entry
}

func NewSessions(displayManager bool, logger *logrus.Entry) *Sessions {
	return &Sessions{
		engines:        make(map[string]*engine.Engine),
		displayManager: displayManager,
		logger:         logger,
	}
}

// GetOrCreate returns the engine of a session, starting it first if
// needed.
func (s *Sessions) GetOrCreate(sessionID string) *engine.Engine {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if e, found := s.engines[sessionID]; found {
		return e
	}

	s.logger.Infof("creating new session %s", sessionID)
	e := engine.Start(engine.Config{
		ID:             sessionID,
		DisplayManager: s.displayManager,
	})
	s.engines[sessionID] = e
	return e
}

// Close shuts down every session.
func (s *Sessions) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for id, e := range s.engines {
		e.Shutdown()
		delete(s.engines, id)
	}
}
