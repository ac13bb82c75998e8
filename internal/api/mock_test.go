package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/pipeline"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, req pipeline.Request) (*pipeline.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*pipeline.Response)
	return resp, args.Error(1)
}

func (m *mockExtractor) Usage(ctx context.Context, userID string) (*budget.Usage, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*budget.Usage)
	return u, args.Error(1)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
