// Package mocks contains testify mocks for the collaborators of the ingest service.
package mocks

import (
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/stretchr/testify/mock"
)

// MockExtractor is a mock type for the extractor type
type MockExtractor struct {
	mock.Mock
}

// ExtractMetadata provides a mock function with given fields: src, mime
func (_m *MockExtractor) ExtractMetadata(src extract.Source, mime string) (*extract.Metadata, error) {
	ret := _m.Called(src, mime)

	var r0 *extract.Metadata
	var r1 error
	if rf, ok := ret.Get(0).(func(extract.Source, string) (*extract.Metadata, error)); ok {
		return rf(src, mime)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*extract.Metadata)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// ExtractPicture provides a mock function with given fields: src, mime
func (_m *MockExtractor) ExtractPicture(src extract.Source, mime string) (*extract.Picture, error) {
	ret := _m.Called(src, mime)

	var r0 *extract.Picture
	var r1 error
	if rf, ok := ret.Get(0).(func(extract.Source, string) (*extract.Picture, error)); ok {
		return rf(src, mime)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*extract.Picture)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockExtractor creates a new instance of MockExtractor. It also registers a testing
// interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockExtractor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockExtractor {
	m := &MockExtractor{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
