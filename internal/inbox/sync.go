package inbox

import (
	"context"
	"errors"

	"github.com/matheus3301/lensdm/internal/bus"
	"github.com/matheus3301/lensdm/internal/convkey"
	"github.com/matheus3301/lensdm/internal/profiles"
	"github.com/matheus3301/lensdm/internal/remote"
	intsync "github.com/matheus3301/lensdm/internal/sync"
	"go.uber.org/zap"
)

// handleBatch runs on the pipeline goroutine after each applied batch and
// syncs profiles for keys seen for the first time.
func (i *Inbox) handleBatch(b intsync.BatchApplied) {
	var fresh []string
	for _, c := range b.Result.Changes {
		if c.Created {
			fresh = append(fresh, c.Key)
		}
	}
	if len(fresh) == 0 {
		return
	}
	i.spawn(func(ctx context.Context) {
		if err := i.syncKeys(ctx, fresh); err != nil && ctx.Err() == nil {
			i.logger.Warn("profile sync failed", zap.Int("keys", len(fresh)), zap.Error(err))
		}
	})
}

// Resync fetches profiles for every previewed conversation that has no
// snapshot, including those removed by UnsyncProfile.
func (i *Inbox) Resync(ctx context.Context) error {
	st := i.store()
	var missing []string
	for key := range i.previews.Snapshot() {
		if _, ok := st.Get(key); !ok {
			missing = append(missing, key)
		}
	}
	return i.syncKeys(ctx, missing)
}

type pendingProfile struct {
	key string
	id  string
}

// syncKeys persists a snapshot for each key that lacks one. Conversations
// whose id does not name a counterpart profile get a placeholder.
func (i *Inbox) syncKeys(ctx context.Context, keys []string) error {
	account := i.Account()
	st := i.store()
	if st == nil {
		return ErrClosed
	}

	var pending []pendingProfile
	for _, key := range keys {
		if _, ok := st.Get(key); ok {
			continue
		}
		k, err := convkey.ParseConversationKey(key)
		if err != nil {
			continue
		}
		id, ok := convkey.Counterpart(k.ConversationID, account.ProfileID)
		if !ok {
			if err := i.persist(st, key, profiles.Profile{OwnedBy: k.OwnerAddress}); err != nil {
				return err
			}
			continue
		}
		pending = append(pending, pendingProfile{key: key, id: id})
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.id)
	}
	follows, err := i.dir.FetchFollowStatus(ctx, account.ProfileID, ids)
	if err != nil {
		i.setProfilesError(ctx, err)
		return err
	}

	for _, p := range pending {
		prof, err := i.dir.FetchProfile(ctx, p.id)
		if errors.Is(err, remote.ErrNotFound) {
			k, _ := convkey.ParseConversationKey(p.key)
			prof = profiles.Profile{OwnedBy: k.OwnerAddress}
		} else if err != nil {
			i.setProfilesError(ctx, err)
			return err
		}
		if prof.Synced() {
			prof.IsFollowedByMe = follows[p.id]
		}
		if err := i.persist(st, p.key, prof); err != nil {
			return err
		}
	}

	i.mu.Lock()
	i.profilesErr = ErrorNone
	i.mu.Unlock()
	return nil
}

func (i *Inbox) persist(st *profiles.Store, key string, p profiles.Profile) error {
	if err := st.Persist(key, p); err != nil {
		return err
	}
	i.bus.Emit(bus.KindProfilePersisted, key)
	return nil
}

func (i *Inbox) setProfilesError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	i.mu.Lock()
	i.profilesErr = ErrorProfilesUnavailable
	i.mu.Unlock()
	i.bus.Emit(bus.KindProfilesError, err.Error())
}
