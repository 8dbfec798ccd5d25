package action

import (
	"context"
	"log/slog"

	"github.com/roach88/crewflow/internal/guard"
	"github.com/roach88/crewflow/internal/model"
)

// AgreementHandler implements SEND_AGREEMENT, guarded by
// (entity, document type).
type AgreementHandler struct {
	Signer Signer
	Guard  guard.Guard
}

func (h *AgreementHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.AgreementConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	email := req.Context.Text(cfg.RecipientEmail)
	if email == "" {
		return model.ActionOutcome{}, Configf("no agreement recipient at %q", cfg.RecipientEmail)
	}
	name := ""
	if cfg.RecipientName != "" {
		name = req.Context.Text(cfg.RecipientName)
	}

	key := model.AgreementKey(req.Transition, cfg.DocumentType)
	keyHash, err := key.Hash()
	if err != nil {
		return model.ActionOutcome{}, Execution("agreement key", err)
	}
	proceed, err := h.Guard.ShouldProceed(ctx, key)
	if err != nil {
		return model.ActionOutcome{}, Execution("reserve agreement key", err)
	}
	if !proceed {
		return model.Skipped(model.ReasonDuplicate), nil
	}

	envelope, err := h.Signer.RequestEnvelope(ctx, EnvelopeRequest{
		DocumentType:    cfg.DocumentType,
		TemplateID:      cfg.TemplateID,
		RecipientName:   name,
		RecipientEmail:  email,
		SendImmediately: cfg.SendImmediately,
		EntityType:      req.Transition.EntityType,
		EntityID:        req.Transition.EntityID,
		IdempotencyKey:  keyHash,
	})
	if err != nil {
		// Detach from ctx: it may be the expired action deadline.
		if rerr := h.Guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			slog.Warn("guard release failed", "key", key.String(), "error", rerr)
		}
		return model.ActionOutcome{}, External("request envelope", err)
	}
	if err := h.Guard.Record(context.WithoutCancel(ctx), key); err != nil {
		// The envelope exists; the stale reservation still blocks a
		// duplicate until its lease runs out.
		slog.Warn("guard record failed", "key", key.String(), "error", err)
	}
	return model.Succeeded("", map[string]any{
		"envelopeId":     envelope.ID,
		"envelopeStatus": envelope.Status,
		"documentType":   cfg.DocumentType,
		"sent":           cfg.SendImmediately,
	}), nil
}
