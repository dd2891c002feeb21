package gate

import (
	"github.com/google/uuid"

	"github.com/atmx/risk-gate/internal/model"
)

// Receipt builds the immutable audit record for one evaluation.
func Receipt(req Request, res Result) *model.DecisionReceipt {
	return &model.DecisionReceipt{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		MarketTicker:   req.MarketTicker,
		TS:             res.EvalTime.UTC(),
		IntendedAction: req.Action,
		Allowed:        res.AllowNewOpen,
		ReasonCode:     res.ReasonCode,
		KillState:      res.KillState,
		SizeMultiplier: res.SizeMultiplier,
		Limits:         res.EffectiveLimits,
	}
}
