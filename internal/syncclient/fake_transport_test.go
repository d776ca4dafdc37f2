package syncclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/thoughtspace/sync/internal/ir"
)

// fakeTransport is a deterministic in-memory stand-in for relay.WSClient,
// letting Coordinator tests drive Push/PullSince/Hydrate/Subscribe without
// a network connection.
type fakeTransport struct {
	mu sync.Mutex

	pushSyncTS     ir.Timestamp
	pushCorrective []ir.Operation
	pushErr        error
	pushedBatch    []ir.Operation

	pullHeader ir.StreamHeader
	pullOps    []ir.Operation
	pullErr    error

	hydrateBody io.ReadCloser
	hydrateErr  error

	live   chan ir.WireMessage
	subErr error

	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{live: make(chan ir.WireMessage, 16)}
}

func (f *fakeTransport) Push(ctx context.Context, ops []ir.Operation) (ir.Timestamp, []ir.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return "", nil, f.pushErr
	}
	f.pushedBatch = append([]ir.Operation{}, ops...)
	return f.pushSyncTS, f.pushCorrective, nil
}

func (f *fakeTransport) PullSince(ctx context.Context, cursor ir.Timestamp) (ir.StreamHeader, []ir.Operation, error) {
	if f.pullErr != nil {
		return ir.StreamHeader{}, nil, f.pullErr
	}
	return f.pullHeader, f.pullOps, nil
}

func (f *fakeTransport) Hydrate(ctx context.Context) (io.ReadCloser, error) {
	if f.hydrateErr != nil {
		return nil, f.hydrateErr
	}
	if f.hydrateBody == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return f.hydrateBody, nil
}

func (f *fakeTransport) Subscribe(ctx context.Context) (<-chan ir.WireMessage, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.live, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	close(f.live)
	return nil
}

var errFakeTransport = errors.New("fake transport failure")
