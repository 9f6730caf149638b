package executor

import (
	"io"
	"sync"

	"github.com/behrlich/tee-executor/internal/gp"
	"github.com/behrlich/tee-executor/internal/interfaces"
)

// MockInvoker is a fake per-connection session driver for exercising
// internal/session's TLV dispatch loop without a real vendor library or
// TEE. It implements interfaces.Invoker.
type MockInvoker struct {
	mu sync.Mutex

	OpenSessionErr error
	InvokeErr      error
	CloseErr       error

	// RetCode is copied onto every invoked Operation's RetCode.
	RetCode uint32

	openSessionCalls int
	invokeCalls      int
	closeCalls       int

	lastStartBody []byte
	lastOp        *gp.Operation
}

func NewMockInvoker() *MockInvoker {
	return &MockInvoker{}
}

func (m *MockInvoker) OpenSession(startBody []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openSessionCalls++
	m.lastStartBody = startBody
	return m.OpenSessionErr
}

func (m *MockInvoker) Invoke(op *gp.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeCalls++
	m.lastOp = op
	if m.InvokeErr != nil {
		return m.InvokeErr
	}
	op.RetCode = m.RetCode
	return nil
}

func (m *MockInvoker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.CloseErr
}

// CallCounts returns how many times each capability method has been
// invoked, for test assertions.
func (m *MockInvoker) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"open_session": m.openSessionCalls,
		"invoke":       m.invokeCalls,
		"close":        m.closeCalls,
	}
}

// LastStartBody returns the START body most recently passed to OpenSession.
func (m *MockInvoker) LastStartBody() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStartBody
}

var _ interfaces.Invoker = (*MockInvoker)(nil)

// MockBackend is a fake forkserver-level capability record for exercising
// internal/forkserver's request loop without a real vendor library, TEE, or
// coverage region. It implements interfaces.Backend.
type MockBackend struct {
	mu sync.Mutex

	InitErr        error
	PreExecuteErr  error
	PostExecuteErr error
	DeinitErr      error

	// ExitCode is returned by every Execute call.
	ExitCode int

	initCalls        int
	preExecuteCalls  int
	executeCalls     int
	postExecuteCalls int
	deinitCalls      int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return m.InitErr
}

func (m *MockBackend) PreExecute(statusConn io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preExecuteCalls++
	return m.PreExecuteErr
}

func (m *MockBackend) Execute(dataConn io.ReadWriter) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeCalls++
	return m.ExitCode
}

func (m *MockBackend) PostExecute(statusConn io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postExecuteCalls++
	return m.PostExecuteErr
}

func (m *MockBackend) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deinitCalls++
	return m.DeinitErr
}

// CallCounts returns how many times each capability method has been
// invoked, for test assertions.
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"init":         m.initCalls,
		"pre_execute":  m.preExecuteCalls,
		"execute":      m.executeCalls,
		"post_execute": m.postExecuteCalls,
		"deinit":       m.deinitCalls,
	}
}

var _ interfaces.Backend = (*MockBackend)(nil)
