package inbox

import (
	"context"

	"github.com/matheus3301/lensdm/internal/bus"
	"github.com/matheus3301/lensdm/internal/convkey"
	"github.com/matheus3301/lensdm/internal/preview"
	"github.com/matheus3301/lensdm/internal/profiles"
	"go.uber.org/zap"
)

// OrderedPreviews returns the conversations of tab, newest first.
func (i *Inbox) OrderedPreviews(tab preview.Tab) ([]Row, error) {
	if _, err := preview.ParseTab(string(tab)); err != nil {
		return nil, err
	}
	st := i.store()
	if st == nil {
		return nil, ErrClosed
	}
	snapshot := i.previews.Snapshot()
	entries := preview.Reconcile(st.All(), snapshot, tab)

	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		p, ok := snapshot[e.Key]
		rows = append(rows, Row{
			Key:         e.Key,
			Profile:     e.Profile,
			Preview:     p,
			HasPreview:  ok,
			DisplayName: i.displayName(e),
		})
	}
	return rows, nil
}

// displayName prefers the profile name, then the cached ENS name, then the
// shortened address. A name not yet cached is resolved in the background.
func (i *Inbox) displayName(e profiles.Entry) string {
	if e.Profile.Synced() {
		if e.Profile.Name != "" {
			return e.Profile.Name
		}
		return e.Profile.Handle
	}

	addr := e.Profile.OwnedBy
	if addr == "" {
		if k, err := convkey.ParseConversationKey(e.Key); err == nil {
			addr = k.OwnerAddress
		}
	}
	name, found, cached := i.names.Peek(addr)
	if cached && found {
		return name
	}
	if !cached {
		i.resolveName(addr)
	}
	return FormatAddress(addr)
}

func (i *Inbox) resolveName(addr string) {
	if addr == "" {
		return
	}
	i.mu.Lock()
	if i.resolving[addr] {
		i.mu.Unlock()
		return
	}
	i.resolving[addr] = true
	i.mu.Unlock()

	i.spawn(func(ctx context.Context) {
		defer func() {
			i.mu.Lock()
			delete(i.resolving, addr)
			i.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(ctx, i.opts.LookupTimeout)
		defer cancel()
		name, found, err := i.names.Resolve(ctx, addr)
		if err != nil {
			i.logger.Debug("name lookup failed", zap.String("address", addr), zap.Error(err))
			return
		}
		i.bus.Emit(bus.KindENSResolved, NameResolved{Address: addr, Name: name, Found: found})
	})
}

// FormatAddress shortens a wallet address to 0x1234…abcd.
func FormatAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
