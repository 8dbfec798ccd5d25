package action

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/crewflow/internal/guard"
	"github.com/roach88/crewflow/internal/model"
)

// CommissionHandler implements CREATE_COMMISSION, guarded by
// (owner, commission type, source entity).
type CommissionHandler struct {
	Commissions CommissionRepository
	Guard       guard.Guard
	IDs         IDGenerator
}

func (h *CommissionHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.CommissionConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	cfg = cfg.WithDefaults()

	owner := req.Context.Text(cfg.OwnerPath)
	if owner == "" {
		return model.ActionOutcome{}, Configf("no commission owner at %q", cfg.OwnerPath)
	}
	raw, _ := req.Context.Lookup(cfg.AmountPath)
	base, ok := toAmount(raw)
	if !ok {
		return model.ActionOutcome{}, Configf("no numeric commission base at %q", cfg.AmountPath)
	}
	baseCents := int64(math.Round(base * 100))
	amountCents := int64(math.Round(float64(baseCents) * cfg.RatePercent / 100))

	key := model.CommissionKey(req.Transition, owner, cfg.CommissionType)
	proceed, err := h.Guard.ShouldProceed(ctx, key)
	if err != nil {
		return model.ActionOutcome{}, Execution("reserve commission key", err)
	}
	if !proceed {
		return model.Skipped(model.ReasonDuplicate), nil
	}

	c := model.Commission{
		ID:             h.IDs.Generate(),
		OwnerID:        owner,
		CommissionType: cfg.CommissionType,
		SourceType:     req.Transition.EntityType,
		SourceID:       req.Transition.EntityID,
		AmountCents:    amountCents,
		RatePercent:    cfg.RatePercent,
		Status:         model.CommissionActive,
		TriggerEvent:   cfg.TriggerEvent,
		CreatedAt:      req.Now.UTC(),
	}
	created, err := h.Commissions.CreateCommission(ctx, c)
	if err != nil {
		if rerr := h.Guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			slog.Warn("guard release failed", "key", key.String(), "error", rerr)
		}
		return model.ActionOutcome{}, Execution("create commission", err)
	}
	if err := h.Guard.Record(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("guard record failed", "key", key.String(), "error", err)
	}
	if !created {
		// The key was free but the store already holds an ACTIVE
		// commission, e.g. one created before the guard existed.
		return model.Skipped(model.ReasonDuplicate), nil
	}
	return model.Succeeded("", map[string]any{
		"commissionId":   c.ID,
		"ownerId":        owner,
		"commissionType": c.CommissionType,
		"amountCents":    amountCents,
		"baseCents":      baseCents,
	}), nil
}

// toAmount reads a currency amount from a number or numeric string
// ("12,500.00" is accepted).
func toAmount(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(n), "$")), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
