// Package mocks holds testify mocks shared across package tests.
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/page"
)

// -- Page Mocks --

// Node is a minimal page.Node for tests.
type Node struct {
	Name string
}

func (n *Node) String() string { return n.Name }

// NewNode returns a named test node.
func NewNode(name string) *Node { return &Node{Name: name} }

// MockPage mocks page.Page.
type MockPage struct {
	mock.Mock
}

var _ page.Page = (*MockPage)(nil)

func (m *MockPage) EvaluateLocator(ctx context.Context, loc schemas.Locator) (page.Node, error) {
	args := m.Called(ctx, loc)
	var node page.Node
	if v := args.Get(0); v != nil {
		node = v.(page.Node)
	}
	return node, args.Error(1)
}

func (m *MockPage) DispatchEvent(ctx context.Context, node page.Node, ev page.Event) (bool, error) {
	args := m.Called(ctx, node, ev)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) GetComputedVisibility(ctx context.Context, node page.Node) (page.Visibility, error) {
	args := m.Called(ctx, node)
	return args.Get(0).(page.Visibility), args.Error(1)
}

func (m *MockPage) ReadProperty(ctx context.Context, node page.Node, name string) (any, error) {
	args := m.Called(ctx, node, name)
	return args.Get(0), args.Error(1)
}

func (m *MockPage) SetProperty(ctx context.Context, node page.Node, name string, value any) error {
	args := m.Called(ctx, node, name, value)
	return args.Error(0)
}

func (m *MockPage) Invoke(ctx context.Context, node page.Node, method string, params ...any) error {
	args := m.Called(ctx, node, method, params)
	return args.Error(0)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) ReadyState(ctx context.Context) (page.ReadyState, error) {
	args := m.Called(ctx)
	return args.Get(0).(page.ReadyState), args.Error(1)
}

func (m *MockPage) RunScript(ctx context.Context, body string) (any, error) {
	args := m.Called(ctx, body)
	return args.Get(0), args.Error(1)
}

func (m *MockPage) ScrollWindow(ctx context.Context, x, y float64, absolute bool) error {
	args := m.Called(ctx, x, y, absolute)
	return args.Error(0)
}

// MockProvider mocks page.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ActivePage(ctx context.Context) (page.Page, error) {
	args := m.Called(ctx)
	var p page.Page
	if v := args.Get(0); v != nil {
		p = v.(page.Page)
	}
	return p, args.Error(1)
}

// -- Queue and Journal Mocks --

// MockQueue mocks schemas.CommandQueue.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Fetch(ctx context.Context) ([]schemas.Command, error) {
	args := m.Called(ctx)
	var cmds []schemas.Command
	if v := args.Get(0); v != nil {
		cmds = v.([]schemas.Command)
	}
	return cmds, args.Error(1)
}

func (m *MockQueue) Report(ctx context.Context, cmd schemas.Command, result schemas.CommandResult) error {
	args := m.Called(ctx, cmd, result)
	return args.Error(0)
}

// MockJournal mocks schemas.ResultJournal.
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Record(ctx context.Context, cmd schemas.Command, result schemas.CommandResult) error {
	args := m.Called(ctx, cmd, result)
	return args.Error(0)
}

// -- Runner Mock --

// MockRunner mocks the dispatcher's command runner. RunFunc, when set, replaces
// the recorded return value so tests can block or inspect calls.
type MockRunner struct {
	mock.Mock
	mu      sync.Mutex
	RunFunc func(ctx context.Context, p page.Page, cmd schemas.Command) schemas.CommandResult
}

func (m *MockRunner) Run(ctx context.Context, p page.Page, cmd schemas.Command) schemas.CommandResult {
	args := m.Called(ctx, p, cmd)
	m.mu.Lock()
	fn := m.RunFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, p, cmd)
	}
	return args.Get(0).(schemas.CommandResult)
}

// -- Config Mock --

// MockConfig mocks config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Queue() config.QueueConfig {
	args := m.Called()
	return args.Get(0).(config.QueueConfig)
}

func (m *MockConfig) Dispatcher() config.DispatcherConfig {
	args := m.Called()
	return args.Get(0).(config.DispatcherConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Control() config.ControlConfig {
	args := m.Called()
	return args.Get(0).(config.ControlConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}
