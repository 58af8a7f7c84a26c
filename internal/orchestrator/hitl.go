package orchestrator

import (
	"context"
	"time"

	"github.com/lyzr/workflows/internal/model"
)

// askHuman implements §4.5's askHuman contract: create a HITLRequest, move the
// handle to WAITING_HUMAN, emit hitl_request, and block at suspension point (d)
// until a response arrives or timeoutSeconds elapses, in which case autoAction
// is substituted and the request is marked HITLTimeout.
func (m *Manager) askHuman(me *managedExecution, ctx context.Context, nodeID, question string, options []string, timeoutSeconds int, autoAction model.HITLAction) (model.HITLResponse, error) {
	handle := me.handle
	req := model.NewHITLRequest(handle.ExecutionID, handle.UserID, nodeID, model.HITLApproval, question, question, options, timeoutSeconds, autoAction)
	handle.SetPendingHitl(req)
	prevState := handle.GetState()
	handle.SetState(model.StateWaitingHuman)
	if m.metrics != nil {
		m.metrics.IncHITLPending()
		defer m.metrics.DecHITLPending()
	}

	m.emit(handle, model.EventHitlRequest, map[string]interface{}{
		"requestId": req.ID, "type": req.Type, "title": req.Title, "message": req.Message,
		"options": req.Options, "nodeId": nodeID, "executionId": handle.ExecutionID, "timeoutSeconds": timeoutSeconds,
	})

	var timeoutCh <-chan time.Time
	if timeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(timeoutSeconds) * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var resp model.HITLResponse
	select {
	case resp = <-req.ResponseChannel():
	case <-timeoutCh:
		resp = model.HITLResponse{Action: autoAction, Message: "timed out, auto-action applied"}
		req.Status = model.HITLTimeout
	case <-ctx.Done():
		handle.SetState(prevState)
		handle.SetPendingHitl(nil)
		return model.HITLResponse{}, ctx.Err()
	}

	if req.Status != model.HITLTimeout {
		req.Status = statusForAction(resp.Action)
	}
	now := time.Now()
	req.RespondedAt = &now
	req.Response = &resp

	handle.SetPendingHitl(nil)
	handle.SetState(prevState)
	return resp, nil
}

func statusForAction(a model.HITLAction) model.HITLStatus {
	switch a {
	case model.ActionApprove:
		return model.HITLApproved
	case model.ActionReject:
		return model.HITLRejected
	default:
		return model.HITLAnswered
	}
}
