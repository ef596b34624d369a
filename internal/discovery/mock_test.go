package discovery

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/hazmat-radar/internal/model"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) ListRevisions(ctx context.Context, path string) ([]model.Revision, error) {
	args := m.Called(ctx, path)
	revs, _ := args.Get(0).([]model.Revision)
	return revs, args.Error(1)
}

type mockRunLog struct {
	mock.Mock
}

func (m *mockRunLog) StartRun(ctx context.Context, stage model.Stage, month string) (string, error) {
	args := m.Called(ctx, stage, month)
	return args.String(0), args.Error(1)
}

func (m *mockRunLog) CompleteRun(ctx context.Context, runID string, result model.RunResult) error {
	return m.Called(ctx, runID, result).Error(0)
}

func (m *mockRunLog) FailRun(ctx context.Context, runID string, errMsg string) error {
	return m.Called(ctx, runID, errMsg).Error(0)
}

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) MergeDiscoveries(ctx context.Context, records []model.Discovery) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}
