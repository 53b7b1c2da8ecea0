package mocks

import (
	"context"

	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/stretchr/testify/mock"
)

// MockRangeFetcher is a mock type for the rangeFetcher type
type MockRangeFetcher struct {
	mock.Mock
}

// FetchRange provides a mock function with given fields: ctx, key, offset, length
func (_m *MockRangeFetcher) FetchRange(ctx context.Context, key string, offset int64, length int64) (*objectstore.RangeResult, error) {
	ret := _m.Called(ctx, key, offset, length)

	if rf, ok := ret.Get(0).(func(context.Context, string, int64, int64) (*objectstore.RangeResult, error)); ok {
		return rf(ctx, key, offset, length)
	}

	var r0 *objectstore.RangeResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*objectstore.RangeResult)
	}

	return r0, ret.Error(1)
}

// NewMockRangeFetcher creates a new instance of MockRangeFetcher. It also registers a testing
// interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockRangeFetcher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRangeFetcher {
	m := &MockRangeFetcher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
