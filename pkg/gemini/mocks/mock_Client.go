// Package mocks provides test doubles for the gemini client.
package mocks

import (
	"context"

	gemini "github.com/cookcard/ingest/pkg/gemini"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// AnalyzeVideo provides a mock function with given fields: ctx, req
func (_m *MockClient) AnalyzeVideo(ctx context.Context, req gemini.VideoRequest) (*gemini.VideoResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for AnalyzeVideo")
	}

	var r0 *gemini.VideoResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, gemini.VideoRequest) (*gemini.VideoResponse, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, gemini.VideoRequest) *gemini.VideoResponse); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*gemini.VideoResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, gemini.VideoRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Close provides a mock function with no fields
func (_m *MockClient) Close() error {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Close")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
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
