package device

import (
	"context"
	"sync"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
)

// TestSessionFactory hands out in-memory sessions answering with canned types.
type TestSessionFactory struct {
	mu          sync.Mutex
	types       map[string]string
	inferErrors map[string]error
	openErrors  map[string]error
	opened      int
	closed      int
	inferCalls  int
}

func NewTestSessionFactory() *TestSessionFactory {
	return &TestSessionFactory{
		types:       map[string]string{},
		inferErrors: map[string]error{},
		openErrors:  map[string]error{},
	}
}

func (f *TestSessionFactory) WithType(deviceId, typ string) *TestSessionFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[deviceId] = typ
	return f
}

func (f *TestSessionFactory) WithInferError(deviceId string, err error) *TestSessionFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inferErrors[deviceId] = err
	return f
}

func (f *TestSessionFactory) WithOpenError(deviceId string, err error) *TestSessionFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrors[deviceId] = err
	return f
}

func (f *TestSessionFactory) Open(ctx context.Context, conn domain.ConnectionFields) (port.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErrors[conn.DeviceId]; err != nil {
		return nil, err
	}
	f.opened++
	return &TestSession{factory: f, conn: conn}, nil
}

func (f *TestSessionFactory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *TestSessionFactory) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// InferCalls counts network round trips made through the sessions.
func (f *TestSessionFactory) InferCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inferCalls
}

type TestSession struct {
	factory *TestSessionFactory
	conn    domain.ConnectionFields
	closed  bool
}

func (s *TestSession) InferType(ctx context.Context) (string, error) {
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inferCalls++
	if err := f.inferErrors[s.conn.DeviceId]; err != nil {
		return "", err
	}
	return f.types[s.conn.DeviceId], nil
}

func (s *TestSession) Close() error {
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	if !s.closed {
		s.closed = true
		f.closed++
	}
	return nil
}

func (s *TestSession) Closed() bool {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	return s.closed
}
