package eventstore

import (
	"context"
	"errors"
	"time"
)

// pipelineHooksAwarePersistence runs every read through the Select method of the hooks
// and notifies them after purges and stream deletions.
type pipelineHooksAwarePersistence struct {
	Persistence
	hooks []PipelineHook
}

func newPipelineHooksAwarePersistence(persistence Persistence, hooks []PipelineHook) *pipelineHooksAwarePersistence {
	return &pipelineHooksAwarePersistence{
		Persistence: persistence,
		hooks:       hooks,
	}
}

func (p *pipelineHooksAwarePersistence) ReadForward(
	ctx context.Context,
	bucketID string,
	streamID string,
	minRevision int,
	maxRevision int,
) *Sequence[Commit] {

	return p.filter(ctx, p.Persistence.ReadForward(ctx, bucketID, streamID, minRevision, maxRevision))
}

func (p *pipelineHooksAwarePersistence) ReadFrom(ctx context.Context, checkpointToken string) *Sequence[Commit] {
	return p.filter(ctx, p.Persistence.ReadFrom(ctx, checkpointToken))
}

func (p *pipelineHooksAwarePersistence) ReadBucketFrom(
	ctx context.Context,
	bucketID string,
	checkpointToken string,
) *Sequence[Commit] {

	return p.filter(ctx, p.Persistence.ReadBucketFrom(ctx, bucketID, checkpointToken))
}

func (p *pipelineHooksAwarePersistence) ReadRange(
	ctx context.Context,
	bucketID string,
	start time.Time,
	end time.Time,
) *Sequence[Commit] {

	return p.filter(ctx, p.Persistence.ReadRange(ctx, bucketID, start, end))
}

func (p *pipelineHooksAwarePersistence) Purge(ctx context.Context) error {
	if err := p.Persistence.Purge(ctx); err != nil {
		return err
	}

	return p.notify(func(hook PipelineHook) error { return hook.OnPurge(ctx, "") })
}

func (p *pipelineHooksAwarePersistence) PurgeBucket(ctx context.Context, bucketID string) error {
	if err := p.Persistence.PurgeBucket(ctx, bucketID); err != nil {
		return err
	}

	return p.notify(func(hook PipelineHook) error { return hook.OnPurge(ctx, bucketID) })
}

func (p *pipelineHooksAwarePersistence) DeleteStream(ctx context.Context, bucketID, streamID string) error {
	if err := p.Persistence.DeleteStream(ctx, bucketID, streamID); err != nil {
		return err
	}

	return p.notify(func(hook PipelineHook) error { return hook.OnDeleteStream(ctx, bucketID, streamID) })
}

// filter wraps source into a Sequence that yields what the hooks select, one item at a time.
func (p *pipelineHooksAwarePersistence) filter(ctx context.Context, source *Sequence[Commit]) *Sequence[Commit] {
	if len(p.hooks) == 0 {
		return source
	}

	return NewSequence(ctx, func(ctx context.Context, yield func(Commit) error) error {
		defer source.Close() //nolint:errcheck // Close never fails

		for source.Next() {
			selected, err := p.selectCommit(ctx, source.Current())
			if err != nil {
				return err
			}

			if selected == nil {
				continue
			}

			if err = yield(*selected); err != nil {
				return err
			}
		}

		return source.Err()
	})
}

func (p *pipelineHooksAwarePersistence) selectCommit(ctx context.Context, commit Commit) (*Commit, error) {
	selected := &commit

	for _, hook := range p.hooks {
		var err error

		selected, err = hook.Select(ctx, *selected)
		if err != nil {
			return nil, err
		}

		if selected == nil {
			return nil, nil
		}
	}

	return selected, nil
}

func (p *pipelineHooksAwarePersistence) notify(call func(hook PipelineHook) error) error {
	var errs []error

	for _, hook := range p.hooks {
		if err := call(hook); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
