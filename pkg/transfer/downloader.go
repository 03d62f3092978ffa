package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apyrgio/kamaki/pkg/blockhash"
	"github.com/apyrgio/kamaki/pkg/gateway"
	"github.com/apyrgio/kamaki/pkg/kamakierr"
	"github.com/apyrgio/kamaki/pkg/progress"
	"github.com/apyrgio/kamaki/pkg/scheduler"
)

// Downloader orchestrates remote-hashmap fetch -> optional
// local-rehash resume -> parallel ranged GET into a destination (spec
// §4.6).
type Downloader struct {
	gw        gateway.RestGateway
	scheduler *scheduler.Scheduler
}

// NewDownloader creates a Downloader bound to gw, submitting ranged
// GETs through sched.
func NewDownloader(gw gateway.RestGateway, sched *scheduler.Scheduler) *Downloader {
	return &Downloader{gw: gw, scheduler: sched}
}

// DownloadObject implements spec §4.6 steps 1-4.
func (d *Downloader) DownloadObject(ctx context.Context, obj string, sink Sink, rng *ByteRange, conds gateway.Conds, resume bool, downloadCB progress.Factory) error {
	if resume && rng != nil {
		return kamakierr.New("download", obj, fmt.Errorf("%w: resume and a byte range cannot be combined", kamakierr.ErrPrecondition))
	}

	state := NewDownloadState(obj)

	remote, ok, err := d.gw.GetHashmap(ctx, obj, conds)
	if err != nil {
		state.Fail(ctx, err)
		return kamakierr.New("download", obj, err)
	}
	if !ok {
		wrapped := kamakierr.New("download", obj, fmt.Errorf("%w: %s", kamakierr.ErrNotFound, obj))
		state.Fail(ctx, wrapped)
		return wrapped
	}
	if remote.Bytes < 0 {
		wrapped := kamakierr.New("download", obj, fmt.Errorf("%w: negative object size", kamakierr.ErrFormat))
		state.Fail(ctx, wrapped)
		return wrapped
	}
	if err := state.Transition(ctx, StateRemoteHashmapLoaded); err != nil {
		return err
	}

	pending := make(map[int]string, len(remote.Hashes))
	for i, h := range remote.Hashes {
		pending[i] = h
	}

	randomSink, isRandomAccess := sink.(RandomAccessSink)

	if resume && isRandomAccess {
		if err := state.Transition(ctx, StateResuming); err != nil {
			return err
		}
		if f, ok := sink.(*os.File); ok {
			policy := blockhash.ContainerPolicy{BlockSize: remote.BlockSize, BlockHash: remote.BlockHash}
			if err := resolveResume(f, policy, remote, pending); err != nil {
				state.Fail(ctx, err)
				return err
			}
		}
	}

	terminalMode := !isRandomAccess || rng != nil

	if err := state.Transition(ctx, StateFetching); err != nil {
		return err
	}

	if rng != nil {
		return d.downloadRangeOnly(ctx, obj, sink, *rng, conds, state)
	}

	if terminalMode {
		err = d.downloadSequential(ctx, obj, sink, remote, pending, conds, state, downloadCB)
	} else {
		err = d.downloadParallel(ctx, obj, randomSink, remote, pending, conds, state, downloadCB)
	}
	if err != nil {
		return err
	}

	return state.Transition(ctx, StateDone)
}

// resolveResume rehashes the existing local file and marks every block
// whose digest matches the remote hashmap as already present, removing
// it from pending. A local digest absent from the remote set is a
// divergence: the file is left untouched and the transfer fails.
func resolveResume(f *os.File, policy blockhash.ContainerPolicy, remote gateway.RemoteHashmap, pending map[int]string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return kamakierr.New("resume", f.Name(), fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
	}

	localDigests, err := blockhash.RehashFile(f, policy)
	if err != nil {
		return err
	}

	remoteSet := make(map[string]bool, len(remote.Hashes))
	for _, h := range remote.Hashes {
		remoteSet[h] = true
	}

	for _, d := range localDigests {
		if !remoteSet[d] {
			return kamakierr.New("resume", f.Name(), kamakierr.ErrDivergentLocalFile)
		}
	}

	localSet := make(map[string]bool, len(localDigests))
	for _, d := range localDigests {
		localSet[d] = true
	}
	for i, h := range remote.Hashes {
		if localSet[h] {
			delete(pending, i)
		}
	}
	return nil
}

// downloadSequential fetches blocks in order and writes to sink,
// flushing (via a plain Write) after each block. Used for sinks that
// are not a RandomAccessSink; an explicit byte range is served by
// downloadRangeOnly instead.
func (d *Downloader) downloadSequential(ctx context.Context, obj string, sink Sink, remote gateway.RemoteHashmap, pending map[int]string, conds gateway.Conds, state *TransferState, downloadCB progress.Factory) error {
	indices := sortedKeys(pending)

	var outerErr error
	progress.Drive(downloadCB, len(indices), func(tick func()) {
		for _, i := range indices {
			rng := blockRange(i, remote.BlockSize, remote.Bytes)
			body, err := d.gw.GetRange(ctx, obj, rng.Start, rng.End, conds)
			if err != nil {
				outerErr = kamakierr.NewBlock("download_block", obj, i, err)
				state.Fail(ctx, outerErr)
				return
			}
			_, werr := io.Copy(sink, body)
			_ = body.Close()
			if werr != nil {
				outerErr = kamakierr.NewBlock("download_block", obj, i, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, werr))
				state.Fail(ctx, outerErr)
				return
			}
			tick()
		}
	})
	return outerErr
}

// downloadParallel submits one ranged GET per pending block to the
// scheduler; each worker writes its bytes at its absolute offset on
// completion. After every task completes, the sink is truncated to the
// object's total size.
func (d *Downloader) downloadParallel(ctx context.Context, obj string, sink RandomAccessSink, remote gateway.RemoteHashmap, pending map[int]string, conds gateway.Conds, state *TransferState, downloadCB progress.Factory) error {
	indices := sortedKeys(pending)

	progress.Drive(downloadCB, len(indices), func(tick func()) {
		for _, i := range indices {
			if state.FirstError() != nil {
				break
			}
			i := i
			rng := blockRange(i, remote.BlockSize, remote.Bytes)

			_, err := d.scheduler.Submit(ctx, func(ctx context.Context) (any, error) {
				// A task may still be picked up by a worker after the
				// transfer has already been failed by a sibling task; skip
				// the network call rather than fetch a block after abort.
				if state.FirstError() != nil {
					return nil, nil
				}

				gerr := func() error {
					body, err := d.gw.GetRange(ctx, obj, rng.Start, rng.End, conds)
					if err != nil {
						return err
					}
					defer func() { _ = body.Close() }()

					data, err := io.ReadAll(body)
					if err != nil {
						return fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err)
					}
					if _, err := sink.WriteAt(data, rng.Start); err != nil {
						return fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err)
					}
					return nil
				}()

				if gerr != nil {
					// Recorded here, not only via the caller's later
					// PollCompleted/JoinAll drain, so a sibling task already
					// blocked on the scheduler's semaphore observes the
					// failure the moment it is scheduled, not one iteration
					// later.
					state.Fail(ctx, kamakierr.NewBlock("download_block", obj, i, gerr))
					return nil, gerr
				}
				return nil, nil
			})
			if err != nil {
				state.Fail(ctx, kamakierr.NewBlock("download_block", obj, i, err))
				break
			}
			tick()

			// Reap any blocks that have already finished so a failure is
			// recorded before the next iteration's submission, not only
			// after every pending block has already been queued.
			reapCompleted(ctx, d.scheduler, "download_block", obj, state)
		}
	})

	for _, res := range d.scheduler.JoinAll() {
		if res.Err != nil && state.FirstError() == nil {
			state.Fail(ctx, kamakierr.New("download_block", obj, res.Err))
		}
	}

	if err := state.FirstError(); err != nil {
		return err
	}

	if err := sink.Truncate(remote.Bytes); err != nil {
		wrapped := kamakierr.New("download", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
		state.Fail(ctx, wrapped)
		return wrapped
	}
	return nil
}

// downloadRangeOnly fetches exactly rng and writes it to sink, for
// callers who asked for a specific byte range rather than the whole
// object.
func (d *Downloader) downloadRangeOnly(ctx context.Context, obj string, sink Sink, rng ByteRange, conds gateway.Conds, state *TransferState) error {
	body, err := d.gw.GetRange(ctx, obj, rng.Start, rng.End, conds)
	if err != nil {
		wrapped := kamakierr.New("download", obj, err)
		state.Fail(ctx, wrapped)
		return wrapped
	}
	defer func() { _ = body.Close() }()

	if _, err := io.Copy(sink, body); err != nil {
		wrapped := kamakierr.New("download", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
		state.Fail(ctx, wrapped)
		return wrapped
	}
	return state.Transition(ctx, StateDone)
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
