// Package testutil provides an in-memory fake of gateway.RestGateway for
// exercising Uploader and Downloader without a real Pithos endpoint.
package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/apyrgio/kamaki/pkg/blockhash"
	"github.com/apyrgio/kamaki/pkg/gateway"
	"github.com/apyrgio/kamaki/pkg/kamakierr"
)

// FakeGateway is a minimal, in-memory implementation of gateway.RestGateway
// backed by a block store keyed by digest. It is safe for concurrent use.
type FakeGateway struct {
	mu sync.Mutex

	Policy blockhash.ContainerPolicy

	blocks  map[string][]byte
	objects map[string]*fakeObject

	// PostBlockErr, when non-nil, is returned by PostBlock once the call
	// count reaches FailAfter (0 means: fail on the very first call).
	PostBlockErr      error
	FailAfter         int
	postBlockAttempts int

	// GetRangeErr, when non-nil, is returned by GetRange once the call
	// count reaches GetRangeFailAfter (0 means: fail on the very first
	// call).
	GetRangeErr       error
	GetRangeFailAfter int
	getRangeAttempts  int

	// PostBlockCalls records every hash passed to a successful PostBlock,
	// in call order, for assertions about how many uploads happened.
	PostBlockCalls []string
}

type fakeObject struct {
	digests []string
	bytes   int64
}

// New creates a FakeGateway bound to policy.
func New(policy blockhash.ContainerPolicy) *FakeGateway {
	return &FakeGateway{
		Policy:  policy,
		blocks:  make(map[string][]byte),
		objects: make(map[string]*fakeObject),
	}
}

func (g *FakeGateway) ContainerInfo(ctx context.Context) (blockhash.ContainerPolicy, error) {
	return g.Policy, nil
}

func (g *FakeGateway) PutHashmap(ctx context.Context, obj string, hm blockhash.HashMap, size int64, attrs gateway.Attrs) (bool, gateway.MissingList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var missing gateway.MissingList
	for _, d := range hm.Digests {
		if _, ok := g.blocks[d]; !ok {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		return false, missing, nil
	}

	g.objects[obj] = &fakeObject{digests: append([]string(nil), hm.Digests...), bytes: size}
	return true, nil, nil
}

// PostBlockAttempts returns the total number of PostBlock calls,
// including ones that returned PostBlockErr — use this (not
// PostBlockCalls) to assert that no further network call was even
// attempted after an abort.
func (g *FakeGateway) PostBlockAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.postBlockAttempts
}

func (g *FakeGateway) PostBlock(ctx context.Context, data []byte) (string, error) {
	g.mu.Lock()
	call := g.postBlockAttempts
	g.postBlockAttempts++
	g.mu.Unlock()

	if g.PostBlockErr != nil && call >= g.FailAfter {
		return "", g.PostBlockErr
	}

	sum := sha256.Sum256(data)
	hash := fmt.Sprintf("%x", sum)

	g.mu.Lock()
	g.blocks[hash] = append([]byte(nil), data...)
	g.PostBlockCalls = append(g.PostBlockCalls, hash)
	g.mu.Unlock()

	return hash, nil
}

func (g *FakeGateway) GetHashmap(ctx context.Context, obj string, conds gateway.Conds) (gateway.RemoteHashmap, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.objects[obj]
	if !ok {
		return gateway.RemoteHashmap{}, false, nil
	}
	return gateway.RemoteHashmap{
		BlockSize: g.Policy.BlockSize,
		BlockHash: g.Policy.BlockHash,
		Bytes:     o.bytes,
		Hashes:    append([]string(nil), o.digests...),
	}, true, nil
}

// GetRangeAttempts returns the total number of GetRange calls,
// including ones that returned GetRangeErr.
func (g *FakeGateway) GetRangeAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getRangeAttempts
}

func (g *FakeGateway) GetRange(ctx context.Context, obj string, start, end int64, conds gateway.Conds) (io.ReadCloser, error) {
	g.mu.Lock()
	call := g.getRangeAttempts
	g.getRangeAttempts++
	g.mu.Unlock()

	if g.GetRangeErr != nil && call >= g.GetRangeFailAfter {
		return nil, g.GetRangeErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.objects[obj]
	if !ok {
		return nil, kamakierr.New("get_range", obj, kamakierr.ErrNotFound)
	}

	blockIdx := int(start / g.Policy.BlockSize)
	if blockIdx < 0 || blockIdx >= len(o.digests) {
		return nil, kamakierr.New("get_range", obj, fmt.Errorf("%w: range out of bounds", kamakierr.ErrPrecondition))
	}
	data := g.blocks[o.digests[blockIdx]]

	wantLen := end - start + 1
	if int64(len(data)) > wantLen {
		data = data[:wantLen]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (g *FakeGateway) PutSimple(ctx context.Context, obj string, data []byte, attrs gateway.Attrs) error {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	g.mu.Lock()
	g.blocks[hash] = append([]byte(nil), data...)
	g.objects[obj] = &fakeObject{digests: []string{hash}, bytes: int64(len(data))}
	g.mu.Unlock()
	return nil
}

func (g *FakeGateway) PostAppend(ctx context.Context, obj string, data []byte, attrs gateway.Attrs) error {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blocks[hash] = append([]byte(nil), data...)
	o, ok := g.objects[obj]
	if !ok {
		o = &fakeObject{}
		g.objects[obj] = o
	}
	o.digests = append(o.digests, hash)
	o.bytes += int64(len(data))
	return nil
}

func (g *FakeGateway) Copy(ctx context.Context, src, dst string, attrs gateway.Attrs) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.objects[src]
	if !ok {
		return kamakierr.New("copy", src, kamakierr.ErrNotFound)
	}
	cp := *o
	cp.digests = append([]string(nil), o.digests...)
	g.objects[dst] = &cp
	return nil
}

func (g *FakeGateway) Move(ctx context.Context, src, dst string, attrs gateway.Attrs) error {
	if err := g.Copy(ctx, src, dst, attrs); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.objects, src)
	g.mu.Unlock()
	return nil
}

func (g *FakeGateway) SetContainer(account, container string) {}

// PutObject is a test helper that seeds obj directly from data, bypassing
// the upload protocol, for downloader-only test setups.
func (g *FakeGateway) PutObject(obj string, data []byte) {
	digests, index, err := blockhash.HashStream(bytes.NewReader(data), int64(len(data)), g.Policy, nil)
	if err != nil {
		panic(err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range digests {
		span := index[d]
		g.blocks[d] = append([]byte(nil), data[span.Offset:span.Offset+span.Length]...)
	}
	g.objects[obj] = &fakeObject{digests: digests, bytes: int64(len(data))}
}
