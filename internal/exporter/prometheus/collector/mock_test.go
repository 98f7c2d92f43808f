// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"github.com/stretchr/testify/mock"
	"github.com/sustainable-computing-io/raplstat/internal/monitor"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
)

// MockPowerMonitor mocks the PowerMonitor for testing
type MockPowerMonitor struct {
	mock.Mock
	dataCh chan struct{}
}

func NewMockPowerMonitor() *MockPowerMonitor {
	return &MockPowerMonitor{
		dataCh: make(chan struct{}, 1),
	}
}

var _ PowerDataProvider = (*MockPowerMonitor)(nil)

func (m *MockPowerMonitor) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	s, _ := args.Get(0).(*monitor.Snapshot)
	return s, args.Error(1)
}

func (m *MockPowerMonitor) DataChannel() <-chan struct{} {
	return m.dataCh
}

func (m *MockPowerMonitor) DomainSet() rapl.DomainSet {
	args := m.Called()
	return args.Get(0).(rapl.DomainSet)
}

func (m *MockPowerMonitor) MicroArchitecture() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPowerMonitor) TriggerUpdate() {
	select {
	case m.dataCh <- struct{}{}:
	default:
	}
}
