package pipeline

import (
	"cosmopipe/domain/datablock"
	"cosmopipe/ports"

	"github.com/stretchr/testify/mock"
)

type MockModule struct {
	mock.Mock
}

func (m *MockModule) Setup(options *datablock.Block) (ports.ModuleState, error) {
	args := m.Called(options)
	return args.Get(0), args.Error(1)
}

func (m *MockModule) Execute(block *datablock.Block, state ports.ModuleState) int {
	args := m.Called(block, state)
	return args.Int(0)
}

func (m *MockModule) Cleanup(state ports.ModuleState) error {
	args := m.Called(state)
	return args.Error(0)
}

// funcModule runs an arbitrary function as its execute step
type funcModule struct {
	exec     func(block *datablock.Block) int
	executed int
	cleaned  int
}

func (f *funcModule) Setup(*datablock.Block) (ports.ModuleState, error) { return nil, nil }

func (f *funcModule) Execute(block *datablock.Block, _ ports.ModuleState) int {
	f.executed++
	return f.exec(block)
}

func (f *funcModule) Cleanup(ports.ModuleState) error {
	f.cleaned++
	return nil
}
