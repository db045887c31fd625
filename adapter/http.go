package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/chainsentry/reactor/client"
	"github.com/chainsentry/reactor/playbook"
)

// HTTPActions talks to the surrounding system's freeze, ticketing and
// reconciliation endpoints. Each capability is a single POST; 429 and 5xx
// responses are transient, other non-2xx permanent.
type HTTPActions struct {
	FreezeURL    string
	EscalateURL  string
	RollbackURL  string
	ReconcileURL string
}

type actionRequest struct {
	EntityRef string `json:"entity_ref"`
	Reason    string `json:"reason"`
	Kind      string `json:"kind,omitempty"`
}

type actionResponse struct {
	Status    string `json:"status"`
	TicketRef string `json:"ticket_ref,omitempty"`
	State     string `json:"state,omitempty"`
	Msg       string `json:"msg,omitempty"`
}

func (ha *HTTPActions) Freeze(ctx context.Context, entityRef, reason string) (FreezeStatus, error) {
	resp, err := ha.post(ctx, ha.FreezeURL, actionRequest{EntityRef: entityRef, Reason: reason})
	if err != nil {
		return "", err
	}
	switch resp.Status {
	case string(FreezeConfirmed):
		return FreezeConfirmed, nil
	case string(FreezeRejected):
		return FreezeRejected, nil
	}
	return "", Permanent("freeze endpoint returned unknown status %q: %s", resp.Status, resp.Msg)
}

func (ha *HTTPActions) Escalate(ctx context.Context, entityRef, summary string) (string, error) {
	resp, err := ha.post(ctx, ha.EscalateURL, actionRequest{EntityRef: entityRef, Reason: summary})
	if err != nil {
		return "", err
	}
	if resp.TicketRef == "" {
		return "", Permanent("escalate endpoint returned no ticket ref")
	}
	return resp.TicketRef, nil
}

func (ha *HTTPActions) Rollback(ctx context.Context, entityRef, reason string) error {
	_, err := ha.post(ctx, ha.RollbackURL, actionRequest{EntityRef: entityRef, Reason: reason})
	return err
}

func (ha *HTTPActions) Reconcile(ctx context.Context, entityRef string, kind playbook.StepKind) (ReconcileState, error) {
	resp, err := ha.post(ctx, ha.ReconcileURL, actionRequest{EntityRef: entityRef, Kind: string(kind)})
	if err != nil {
		return "", err
	}
	switch resp.State {
	case string(ReconcileApplied):
		return ReconcileApplied, nil
	case string(ReconcileAbsent):
		return ReconcileAbsent, nil
	}
	return "", Permanent("reconcile endpoint returned unknown state %q", resp.State)
}

func (ha *HTTPActions) post(ctx context.Context, url string, reqBody actionRequest) (actionResponse, error) {
	result := actionResponse{}
	if url == "" {
		return result, Permanent("action endpoint is not configured")
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return result, Permanent("marshal action request is err: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return result, Permanent("compose action request is err: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.HTTPClient().Do(req)
	if err != nil {
		return result, Transient("call action endpoint %s is err: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, Transient("read action response body is err: %v", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return result, Transient("action endpoint %s returned %d", url, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, Permanent("action endpoint %s returned %d: %s", url, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, Permanent("unmarshal action response %s is err: %v", string(body), err)
	}
	return result, nil
}
