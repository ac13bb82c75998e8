// Package mocks provides test doubles for the platform client.
package mocks

import (
	"context"

	platform "github.com/cookcard/ingest/pkg/platform"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Metadata provides a mock function with given fields: ctx, rawURL
func (_m *MockClient) Metadata(ctx context.Context, rawURL string) (*platform.Metadata, error) {
	ret := _m.Called(ctx, rawURL)

	if len(ret) == 0 {
		panic("no return value specified for Metadata")
	}

	var r0 *platform.Metadata
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*platform.Metadata, error)); ok {
		return rf(ctx, rawURL)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *platform.Metadata); ok {
		r0 = rf(ctx, rawURL)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*platform.Metadata)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, rawURL)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Comments provides a mock function with given fields: ctx, meta, limit
func (_m *MockClient) Comments(ctx context.Context, meta *platform.Metadata, limit int) ([]platform.Comment, error) {
	ret := _m.Called(ctx, meta, limit)

	if len(ret) == 0 {
		panic("no return value specified for Comments")
	}

	var r0 []platform.Comment
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, *platform.Metadata, int) ([]platform.Comment, error)); ok {
		return rf(ctx, meta, limit)
	}
	if rf, ok := ret.Get(0).(func(context.Context, *platform.Metadata, int) []platform.Comment); ok {
		r0 = rf(ctx, meta, limit)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]platform.Comment)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, *platform.Metadata, int) error); ok {
		r1 = rf(ctx, meta, limit)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Transcript provides a mock function with given fields: ctx, meta
func (_m *MockClient) Transcript(ctx context.Context, meta *platform.Metadata) (string, error) {
	ret := _m.Called(ctx, meta)

	if len(ret) == 0 {
		panic("no return value specified for Transcript")
	}

	var r0 string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, *platform.Metadata) (string, error)); ok {
		return rf(ctx, meta)
	}
	if rf, ok := ret.Get(0).(func(context.Context, *platform.Metadata) string); ok {
		r0 = rf(ctx, meta)
	} else {
		r0 = ret.Get(0).(string)
	}

	if rf, ok := ret.Get(1).(func(context.Context, *platform.Metadata) error); ok {
		r1 = rf(ctx, meta)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
