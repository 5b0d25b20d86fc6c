package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tariel-x/tutorlive/internal/conversation"
	"github.com/tariel-x/tutorlive/internal/models"
	"github.com/tariel-x/tutorlive/internal/presence"
)

const callInitiatedBody = "Video call initiated"

// handleOutgoingCall forwards an offer to the callee, or rejects it straight back
// to the caller when the callee has no live connection.
func (h *Handlers) handleOutgoingCall(_ context.Context, client *wsClient, data json.RawMessage) error {
	var in outgoingCallData
	if err := decodeEvent(data, &in); err != nil {
		return err
	}
	if err := client.claims("from", in.From); err != nil {
		return err
	}

	now := h.nowFn()
	attempt, err := h.calls.Offer(in.From, in.To, in.RoomID, in.CallType, now)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	callee, online := h.presence.Resolve(in.To)
	if !online {
		_, _ = h.calls.End(attempt.ID, "callee offline", now)
		slog.Default().Debug("ws call offer to offline callee", "call_id", attempt.ID, "from", in.From, "to", in.To)
		client.Send(encodeEvent(evRejectCall, callRejectData{
			From:    in.To,
			To:      in.From,
			Reason:  fmt.Sprintf("%s is not online", in.To),
			Missing: in.To,
		}))
		return nil
	}

	offer := incomingCallData{
		CallID:       attempt.ID,
		From:         in.From,
		To:           in.To,
		TutorID:      in.From,
		TutorName:    h.displayName(in.TutorName),
		TutorImage:   h.avatar(in.TutorImage),
		StudentName:  h.displayName(in.StudentName),
		StudentImage: h.avatar(in.StudentImage),
		CallType:     in.CallType,
		RoomID:       in.RoomID,
	}
	if !callee.Send(encodeEvent(evIncomingVideoCall, offer)) {
		slog.Default().Debug("ws call offer not delivered", "call_id", attempt.ID, "to", in.To)
	}
	return nil
}

// handleAcceptCall connects both parties. "to" is the accepting side and "from" the
// original caller.
func (h *Handlers) handleAcceptCall(ctx context.Context, client *wsClient, data json.RawMessage) error {
	var in acceptCallData
	if err := decodeEvent(data, &in); err != nil {
		return err
	}
	// to names the accepting side.
	if err := client.claims("to", in.To); err != nil {
		return err
	}

	accepter, accepterOnline := h.presence.Resolve(in.To)
	caller, callerOnline := h.presence.Resolve(in.From)
	if !accepterOnline || !callerOnline {
		missing := in.From
		if !accepterOnline {
			missing = in.To
		}
		client.Send(encodeEvent(evRejectCall, callRejectData{
			From:    in.To,
			To:      in.From,
			Reason:  fmt.Sprintf("%s is not online", missing),
			Missing: missing,
		}))
		return nil
	}

	accepted := encodeEvent(evTutorCallAccept, callAcceptData{
		RoomID:  in.RoomID,
		From:    in.From,
		TutorID: in.To,
	})
	accepter.Send(accepted)
	if caller != accepter {
		caller.Send(accepted)
	}

	now := h.nowFn()
	if attempt, ok := h.calls.Accept(in.From, in.To, in.RoomID, now); ok {
		slog.Default().Debug("ws call accepted", "call_id", attempt.ID, "room_id", in.RoomID)
	}

	msg, room, err := h.store.SaveMessage(ctx, conversation.NewMessage{
		RoomID:   in.RoomID,
		SenderID: in.From,
		Body:     callInitiatedBody,
		Type:     models.MessageVideoCall,
		Time:     now,
	})
	if err != nil {
		return storeError("failed to record call", err)
	}
	h.deliverMessage(msg, room)
	return nil
}

// handleRejectCall routes a decline to the other side, looked up in the role opposite
// to the sender's, and confirms the end to the rejecting connection.
func (h *Handlers) handleRejectCall(_ context.Context, client *wsClient, data json.RawMessage) error {
	var in rejectCallData
	if err := decodeEvent(data, &in); err != nil {
		return err
	}

	var (
		targetRole presence.Role
		label      string
	)
	switch strings.ToLower(in.Sender) {
	case "student", "user":
		targetRole, label = presence.RoleTutor, "Student"
	case "tutor":
		targetRole, label = presence.RoleUser, "Tutor"
	default:
		return &eventError{Message: fmt.Sprintf("Unknown sender %q", in.Sender), Fields: []string{"sender"}}
	}

	from := in.From
	if from != "" {
		if err := client.claims("from", from); err != nil {
			return err
		}
	} else if id, ok := h.presence.Lookup(client); ok {
		from = id.ID
	}
	if from != "" {
		h.calls.EndBetween(from, in.To, "rejected", h.nowFn())
	}

	target, online := h.presence.ResolveRole(in.To, targetRole)
	if !online {
		slog.Default().Debug("ws reject to offline party dropped", "to", in.To, "role", targetRole)
		return nil
	}

	reason := fmt.Sprintf("%s %s declined the call", label, h.displayName(in.Name))
	target.Send(encodeEvent(evRejectCall, callRejectData{From: from, To: in.To, Reason: reason}))
	client.Send(encodeEvent(evCallEnded, callRejectData{From: from, To: in.To, Reason: reason}))
	return nil
}

func (h *Handlers) displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return h.config.DefaultDisplayName
	}
	return name
}

func (h *Handlers) avatar(url string) string {
	if strings.TrimSpace(url) == "" {
		return h.config.DefaultAvatarURL
	}
	return url
}
