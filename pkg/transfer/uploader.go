package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/apyrgio/kamaki/internal/logger"
	"github.com/apyrgio/kamaki/pkg/blockhash"
	"github.com/apyrgio/kamaki/pkg/gateway"
	"github.com/apyrgio/kamaki/pkg/kamakierr"
	"github.com/apyrgio/kamaki/pkg/progress"
	"github.com/apyrgio/kamaki/pkg/scheduler"
)

// Uploader orchestrates the hashmap-build -> missing-list-probe ->
// parallel-block-PUT -> final-commit upload protocol (spec §4.5).
type Uploader struct {
	gw        gateway.RestGateway
	scheduler *scheduler.Scheduler
}

// NewUploader creates an Uploader bound to gw, submitting block uploads
// through sched.
func NewUploader(gw gateway.RestGateway, sched *scheduler.Scheduler) *Uploader {
	return &Uploader{gw: gw, scheduler: sched}
}

// UploadObject implements spec §4.5 steps 1-6.
func (u *Uploader) UploadObject(ctx context.Context, obj string, r io.ReadSeeker, size *int64, attrs gateway.Attrs, hashCB, uploadCB progress.Factory) error {
	state := NewUploadState(obj)

	policy, err := u.gw.ContainerInfo(ctx)
	if err != nil {
		state.Fail(ctx, err)
		return err
	}
	if err := policy.Validate(); err != nil {
		state.Fail(ctx, err)
		return err
	}
	if err := state.Transition(ctx, StatePolicyLoaded); err != nil {
		return err
	}

	total, err := resolveSize(r, size)
	if err != nil {
		wrapped := kamakierr.New("upload", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
		state.Fail(ctx, wrapped)
		return wrapped
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		wrapped := kamakierr.New("upload", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
		state.Fail(ctx, wrapped)
		return wrapped
	}

	var digests []string
	var index map[string]blockhash.BlockSpan
	progress.Drive(hashCB, int(blockhash.NumBlocks(total, policy.BlockSize)), func(tick func()) {
		digests, index, err = blockhash.HashStream(r, total, policy, tick)
	})
	if err != nil {
		state.Fail(ctx, err)
		return err
	}
	if err := state.Transition(ctx, StateHashed); err != nil {
		return err
	}

	hm := blockhash.HashMap{Digests: digests, Index: index}

	stored, missing, err := u.gw.PutHashmap(ctx, obj, hm, total, attrs)
	if err != nil {
		wrapped := kamakierr.New("commit", obj, err)
		state.Fail(ctx, wrapped)
		return wrapped
	}
	if err := state.Transition(ctx, StateCommittedProbe); err != nil {
		return err
	}

	if stored {
		if err := state.Transition(ctx, StateDone); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "upload satisfied from existing blocks", logger.TransferID(state.ID), logger.Object(obj))
		return nil
	}

	if err := state.Transition(ctx, StateUploading); err != nil {
		return err
	}

	if err := u.uploadMissingBlocks(ctx, obj, state, hm, missing, r, uploadCB); err != nil {
		return err
	}

	finalStored, _, err := u.gw.PutHashmap(ctx, obj, hm, total, attrs)
	if err != nil {
		wrapped := kamakierr.New("commit_final", obj, err)
		state.Fail(ctx, wrapped)
		return wrapped
	}
	if !finalStored {
		wrapped := kamakierr.New("commit_final", obj, kamakierr.ErrConsistency)
		state.Fail(ctx, wrapped)
		return wrapped
	}
	if err := state.Transition(ctx, StateCommittedFinal); err != nil {
		return err
	}
	return state.Transition(ctx, StateDone)
}

// uploadMissingBlocks reads each missing block's bytes on the calling
// goroutine (a single io.ReadSeeker is not safe for concurrent seeks)
// and submits only the network PostBlock call to the scheduler.
func (u *Uploader) uploadMissingBlocks(ctx context.Context, obj string, state *TransferState, hm blockhash.HashMap, missing gateway.MissingList, r io.ReadSeeker, uploadCB progress.Factory) error {
	var outerErr error

	progress.Drive(uploadCB, len(missing), func(tick func()) {
		for _, wantHash := range missing {
			if state.FirstError() != nil {
				break
			}

			span, ok := hm.Index[wantHash]
			if !ok {
				outerErr = kamakierr.New("upload_block", obj, fmt.Errorf("%w: missing block %s not present locally", kamakierr.ErrConsistency, wantHash))
				state.Fail(ctx, outerErr)
				break
			}

			if _, err := r.Seek(span.Offset, io.SeekStart); err != nil {
				outerErr = kamakierr.New("upload_block", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
				state.Fail(ctx, outerErr)
				break
			}
			data := make([]byte, span.Length)
			if _, err := io.ReadFull(r, data); err != nil {
				outerErr = kamakierr.New("upload_block", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
				state.Fail(ctx, outerErr)
				break
			}

			_, err := u.scheduler.Submit(ctx, func(ctx context.Context) (any, error) {
				// A task may still be picked up by a worker after the
				// transfer has already been failed by a sibling task; skip
				// the network call rather than post a block after abort.
				if state.FirstError() != nil {
					return nil, nil
				}
				serverHash, perr := u.gw.PostBlock(ctx, data)
				if perr == nil && serverHash != wantHash {
					perr = fmt.Errorf("%w: server hash %s != local hash %s", kamakierr.ErrBlockCorruption, serverHash, wantHash)
				}
				if perr != nil {
					// Recorded here, not only via the caller's later
					// PollCompleted/JoinAll drain, so a sibling task already
					// blocked on the scheduler's semaphore observes the
					// failure the moment it is scheduled, not one iteration
					// later.
					state.Fail(ctx, kamakierr.New("upload_block", obj, perr))
					return nil, perr
				}
				return serverHash, nil
			})
			if err != nil {
				outerErr = kamakierr.New("upload_block", obj, err)
				state.Fail(ctx, outerErr)
				break
			}
			tick()

			// Reap any blocks that have already finished so a failure is
			// recorded before the next iteration's submission, not only
			// after every missing block has already been queued.
			reapCompleted(ctx, u.scheduler, "upload_block", obj, state)
		}
	})

	for _, res := range u.scheduler.JoinAll() {
		if res.Err != nil && state.FirstError() == nil {
			wrapped := kamakierr.New("upload_block", obj, res.Err)
			state.Fail(ctx, wrapped)
		}
	}

	if err := state.FirstError(); err != nil {
		return err
	}
	return outerErr
}

// UploadObjectUnchunked implements spec §4.5's unchunked variant.
func (u *Uploader) UploadObjectUnchunked(ctx context.Context, obj string, r io.Reader, asHashmapJSON bool, attrs gateway.Attrs) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return kamakierr.New("upload_unchunked", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
	}

	if !asHashmapJSON {
		return u.gw.PutSimple(ctx, obj, data, attrs)
	}

	var doc struct {
		Bytes  int64    `json:"bytes"`
		Hashes []string `json:"hashes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return kamakierr.New("upload_unchunked", obj, fmt.Errorf("%w: %v", kamakierr.ErrFormat, err))
	}
	// Validate by re-serializing: a document that doesn't round-trip
	// through the same shape is malformed.
	if _, err := json.Marshal(doc); err != nil {
		return kamakierr.New("upload_unchunked", obj, fmt.Errorf("%w: %v", kamakierr.ErrFormat, err))
	}

	hm := blockhash.HashMap{Digests: doc.Hashes}
	stored, _, err := u.gw.PutHashmap(ctx, obj, hm, doc.Bytes, attrs)
	if err != nil {
		return kamakierr.New("upload_unchunked", obj, err)
	}
	if !stored {
		return kamakierr.New("upload_unchunked", obj, kamakierr.ErrConsistency)
	}
	return nil
}

// UploadObjectAppend implements spec §4.5's append variant: sequential,
// no parallelism, since server ordering matters.
func (u *Uploader) UploadObjectAppend(ctx context.Context, obj string, r io.Reader, attrs gateway.Attrs) error {
	policy, err := u.gw.ContainerInfo(ctx)
	if err != nil {
		return kamakierr.New("upload_append", obj, err)
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	buf := make([]byte, policy.BlockSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if perr := u.gw.PostAppend(ctx, obj, buf[:n], attrs); perr != nil {
				return kamakierr.New("upload_append", obj, perr)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return kamakierr.New("upload_append", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
		}
	}
}

// UploadObjectOverwrite implements spec §4.5's overwrite variant: as
// append, but each chunk carries a "bytes start-end/*" Content-Range
// header so the server knows where to splice it in.
func (u *Uploader) UploadObjectOverwrite(ctx context.Context, obj string, r io.Reader, startOffset int64, attrs gateway.Attrs) error {
	policy, err := u.gw.ContainerInfo(ctx)
	if err != nil {
		return kamakierr.New("upload_overwrite", obj, err)
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	buf := make([]byte, policy.BlockSize)
	offset := startOffset
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunkAttrs := attrs
			chunkAttrs.ContentRange = fmt.Sprintf("bytes %d-%d/*", offset, offset+int64(n)-1)
			if perr := u.gw.PostAppend(ctx, obj, buf[:n], chunkAttrs); perr != nil {
				return kamakierr.New("upload_overwrite", obj, perr)
			}
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return kamakierr.New("upload_overwrite", obj, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
		}
	}
}

func resolveSize(r io.ReadSeeker, size *int64) (int64, error) {
	if size != nil {
		return *size, nil
	}
	cur, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}
