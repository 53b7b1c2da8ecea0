// Package mocks contains testify mocks for the collaborators of the stream service.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/stretchr/testify/mock"
)

// MockAssetStore is a mock type for the assetStore type
type MockAssetStore struct {
	mock.Mock
}

// GetStreamableAsset provides a mock function with given fields: ctx, trackID
func (_m *MockAssetStore) GetStreamableAsset(ctx context.Context, trackID uuid.UUID) (*catalog.StreamableAsset, error) {
	ret := _m.Called(ctx, trackID)

	var r0 *catalog.StreamableAsset
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*catalog.StreamableAsset)
	}

	return r0, ret.Error(1)
}

// GetTrackAccess provides a mock function with given fields: ctx, trackID
func (_m *MockAssetStore) GetTrackAccess(ctx context.Context, trackID uuid.UUID) (*catalog.TrackAccess, error) {
	ret := _m.Called(ctx, trackID)

	var r0 *catalog.TrackAccess
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*catalog.TrackAccess)
	}

	return r0, ret.Error(1)
}

// NewMockAssetStore creates a new instance of MockAssetStore. It also registers a testing
// interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockAssetStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAssetStore {
	m := &MockAssetStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
