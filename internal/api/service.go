// Package api serves the preview engine over gRPC.
package api

import (
	"context"
	"errors"

	"github.com/matheus3301/lensdm/internal/bus"
	"github.com/matheus3301/lensdm/internal/convkey"
	"github.com/matheus3301/lensdm/internal/gate"
	"github.com/matheus3301/lensdm/internal/inbox"
	"github.com/matheus3301/lensdm/internal/preview"
	"github.com/matheus3301/lensdm/internal/profiles"
	intsync "github.com/matheus3301/lensdm/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// PreviewService implements PreviewServer on top of an inbox.
type PreviewService struct {
	inbox       *inbox.Inbox
	sessionName string
}

// NewPreviewService creates the service for a session.
func NewPreviewService(sessionName string, in *inbox.Inbox) *PreviewService {
	return &PreviewService{inbox: in, sessionName: sessionName}
}

// GetOrderedPreviews takes {tab} and returns {rows: [...]}. An empty tab
// means the selected one.
func (s *PreviewService) GetOrderedPreviews(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tab := s.inbox.Tab()
	if v := stringField(req, "tab"); v != "" {
		t, err := preview.ParseTab(v)
		if err != nil {
			return nil, toStatus(err)
		}
		tab = t
	}
	rows, err := s.inbox.OrderedPreviews(tab)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(rows))
	for _, r := range rows {
		list = append(list, rowFields(r))
	}
	return newStruct(map[string]any{"tab": string(tab), "rows": list})
}

// GetStatus returns awaiting_signature, loading, ingestion_progress,
// profiles_error, gate, tab and account_profile_id.
func (s *PreviewService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.status()
}

// SelectTab takes {tab}.
func (s *PreviewService) SelectTab(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tab, err := preview.ParseTab(stringField(req, "tab"))
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.inbox.SelectTab(tab); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"tab": string(tab)})
}

// MarkActive takes {conversation_key}. An empty key clears the selection.
func (s *PreviewService) MarkActive(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key := stringField(req, "conversation_key")
	if err := s.inbox.MarkActive(key); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"conversation_key": key})
}

// UnsyncProfile takes {profile_id} and returns {removed_keys}.
func (s *PreviewService) UnsyncProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	keys, err := s.inbox.UnsyncProfile(ctx, stringField(req, "profile_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"removed_keys": stringList(keys)})
}

// Resync refetches missing profiles.
func (s *PreviewService) Resync(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.inbox.Resync(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.status()
}

// Authenticate opens the gate and starts ingestion. It returns the status.
func (s *PreviewService) Authenticate(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.inbox.Authenticate(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.status()
}

// Retry re-runs a failed handshake.
func (s *PreviewService) Retry(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.inbox.Retry(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.status()
}

// Logout forgets the session.
func (s *PreviewService) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.inbox.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.status()
}

// StartConversation takes {profile_id, handle, name, owned_by,
// is_followed_by_me} and returns {conversation_key, tab}.
func (s *PreviewService) StartConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p := profiles.Profile{
		ID:             stringField(req, "profile_id"),
		Handle:         stringField(req, "handle"),
		Name:           stringField(req, "name"),
		OwnedBy:        stringField(req, "owned_by"),
		IsFollowedByMe: req.GetFields()["is_followed_by_me"].GetBoolValue(),
	}
	key, err := s.inbox.StartConversation(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"conversation_key": key, "tab": string(s.inbox.Tab())})
}

// GetBadge takes {profile_id} and returns {profile_id, count}.
func (s *PreviewService) GetBadge(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "profile_id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "profile_id is required")
	}
	return newStruct(map[string]any{"profile_id": id, "count": s.inbox.Badge(id)})
}

// WatchChanges takes {namespace} and streams bus events until the client
// goes away.
func (s *PreviewService) WatchChanges(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.inbox.Subscribe(stringField(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := newStruct(map[string]any{
				"event_id":       evt.ID,
				"session":        s.sessionName,
				"kind":           evt.Kind,
				"occurred_at_ms": evt.Timestamp.UnixMilli(),
				"payload":        payloadValue(evt),
			})
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *PreviewService) status() (*structpb.Struct, error) {
	st := s.inbox.Status()
	var progress any
	if st.Progress != nil {
		progress = *st.Progress
	}
	var profilesErr any
	if st.ProfilesError != inbox.ErrorNone {
		profilesErr = string(st.ProfilesError)
	}
	return newStruct(map[string]any{
		"session":            s.sessionName,
		"awaiting_signature": st.AwaitingSignature,
		"loading":            st.Loading,
		"ingestion_progress": progress,
		"profiles_error":     profilesErr,
		"gate":               string(st.Gate),
		"tab":                string(st.Tab),
		"account_profile_id": st.Account.ProfileID,
	})
}

func rowFields(r inbox.Row) map[string]any {
	row := map[string]any{
		"conversation_key": r.Key,
		"display_name":     r.DisplayName,
		"profile": map[string]any{
			"id":                r.Profile.ID,
			"handle":            r.Profile.Handle,
			"name":              r.Profile.Name,
			"owned_by":          r.Profile.OwnedBy,
			"is_followed_by_me": r.Profile.IsFollowedByMe,
		},
		"preview": nil,
	}
	if r.HasPreview {
		var sentAt any
		if r.Preview.SentAt != nil {
			sentAt = r.Preview.SentAt.UnixMilli()
		}
		row["preview"] = map[string]any{
			"sent_at_ms":   sentAt,
			"snippet":      r.Preview.Snippet,
			"unread_count": r.Preview.UnreadCount,
		}
	}
	return row
}

// payloadValue converts the known event payloads to Struct values.
func payloadValue(evt bus.Event) any {
	switch p := evt.Payload.(type) {
	case nil:
		return nil
	case string:
		return p
	case int:
		return p
	case []string:
		return stringList(p)
	case preview.Tab:
		return string(p)
	case gate.StateChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}
	case inbox.NameResolved:
		return map[string]any{"address": p.Address, "name": p.Name, "found": p.Found}
	case intsync.BatchApplied:
		return map[string]any{
			"account": p.Account,
			"changes": len(p.Result.Changes),
			"dropped": len(p.Result.Dropped),
		}
	}
	return nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func stringList(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, preview.ErrUnknownTab),
		errors.Is(err, convkey.ErrMalformedKey),
		errors.Is(err, inbox.ErrInvalidProfile):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, gate.ErrAuthenticationFailed):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, gate.ErrInProgress),
		errors.Is(err, gate.ErrInvalidTransition),
		errors.Is(err, intsync.ErrNotAuthenticated),
		errors.Is(err, inbox.ErrNoAccount):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, inbox.ErrClosed):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}
