package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/funnel-messaging/internal/delivery"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
)

// fakeClient records every attempt. Recipients listed in errs fail with
// that error.
type fakeClient struct {
	mu    sync.Mutex
	calls []int64
	errs  map[int64]error

	// when set, each attempt signals started and then waits for release
	started chan int64
	release chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{errs: map[int64]error{}}
}

func (f *fakeClient) attempt(ctx context.Context, to int64) error {
	if f.started != nil {
		f.started <- to
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to)
	return f.errs[to]
}

func (f *fakeClient) SendText(ctx context.Context, to int64, _ string) error {
	return f.attempt(ctx, to)
}

func (f *fakeClient) SendImage(ctx context.Context, to int64, _, _ string) error {
	return f.attempt(ctx, to)
}

func (f *fakeClient) SendDocument(ctx context.Context, to int64, _, _ string) error {
	return f.attempt(ctx, to)
}

func (f *fakeClient) SendVideo(ctx context.Context, to int64, _, _ string) error {
	return f.attempt(ctx, to)
}

func (f *fakeClient) Calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

func blocked() error {
	return &delivery.Error{Kind: delivery.Unreachable, Err: errors.New("Forbidden: bot was blocked by the user")}
}

func flaky() error {
	return &delivery.Error{Kind: delivery.Transient, Err: errors.New("502 bad gateway")}
}

func newStore(t *testing.T) *repo.SQLStore {
	t.Helper()
	ctx := context.Background()
	st, err := repo.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return st
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
