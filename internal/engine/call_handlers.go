package engine

import (
	"context"

	"chathub/internal/event"
)

func (e *Engine) callInitiate(ctx context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("calleeId", string(in.CalleeID)); err != nil {
		return nil, err
	}
	return e.calls.Initiate(ctx, req.Participant, in.CalleeID, in.CallKind, in.Offer)
}

func (e *Engine) callAccept(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("callerId", string(in.CallerID)); err != nil {
		return nil, err
	}
	return e.calls.Accept(req.Participant, in.CallerID, in.CallKind)
}

func (e *Engine) callReject(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("callerId", string(in.CallerID)); err != nil {
		return nil, err
	}
	return e.calls.Reject(req.Participant, in.CallerID, in.CallKind, in.Reason)
}

func (e *Engine) callAnswer(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("callerId", string(in.CallerID)); err != nil {
		return nil, err
	}
	return e.calls.Answer(req.Participant, in.CallerID, in.CallKind, in.Answer)
}

func (e *Engine) callIce(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("toId", string(in.ToID)); err != nil {
		return nil, err
	}
	return e.calls.RelayIce(req.Participant, in.ToID, in.CallKind, in.Candidate)
}

func (e *Engine) callEnd(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("otherId", string(in.OtherID)); err != nil {
		return nil, err
	}
	return e.calls.End(req.Participant, in.OtherID, in.CallKind)
}

// callTimeoutAck is the caller's own ringing guard firing.
func (e *Engine) callTimeoutAck(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("otherId", string(in.OtherID)); err != nil {
		return nil, err
	}
	return e.calls.TimeoutAck(req.Participant, in.OtherID, in.CallKind)
}

func (e *Engine) screenshareRequest(ctx context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("targetId", string(in.TargetID)); err != nil {
		return nil, err
	}
	return e.calls.RequestShare(ctx, req.Participant, in.TargetID, in.Offer)
}

func (e *Engine) screenshareDeny(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("requesterId", string(in.RequesterID)); err != nil {
		return nil, err
	}
	return e.calls.Deny(req.Participant, in.RequesterID)
}

func (e *Engine) screenshareForceStop(_ context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	if err := required("otherId", string(in.OtherID)); err != nil {
		return nil, err
	}
	return e.calls.ForceStop(req.Participant, in.OtherID)
}
