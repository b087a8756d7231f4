package incident

import (
	"context"

	"go.uber.org/zap"

	"sre-platform/internal/models"
)

type BatchAction string

const (
	BatchAcknowledge BatchAction = "acknowledge"
	BatchResolve     BatchAction = "resolve"
	BatchAssign      BatchAction = "assign"
)

type BatchOperation struct {
	Action   BatchAction   `json:"action"`
	EventIDs []string      `json:"event_ids"`
	Assignee *models.Actor `json:"assignee,omitempty"`
	Note     string        `json:"note,omitempty"`
}

type BatchFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// Batch applies one action to many incidents. A failing incident is
// reported and the rest are still processed.
func (s *Service) Batch(ctx context.Context, op BatchOperation, actor *models.Actor) (BatchResult, error) {
	if err := op.validate(); err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Succeeded: []string{}, Failed: []BatchFailure{}}
	for _, id := range op.EventIDs {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Error: err.Error()})
			continue
		}
		var err error
		switch op.Action {
		case BatchAcknowledge:
			_, err = s.Acknowledge(ctx, id, actor, op.Note)
		case BatchResolve:
			_, err = s.Resolve(ctx, id, actor, op.Note)
		case BatchAssign:
			_, err = s.Assign(ctx, id, *op.Assignee, actor)
		}
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Error: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	s.logger.Info("batch operation finished",
		zap.String("action", string(op.Action)),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (op BatchOperation) validate() error {
	switch op.Action {
	case BatchAcknowledge, BatchResolve:
	case BatchAssign:
		if op.Assignee == nil || (op.Assignee.ID == "" && op.Assignee.Username == "") {
			return fieldError("assignee", "is required for assign")
		}
	default:
		return fieldError("action", "must be one of acknowledge, resolve, assign")
	}
	if len(op.EventIDs) == 0 {
		return fieldError("event_ids", "must not be empty")
	}
	return nil
}
