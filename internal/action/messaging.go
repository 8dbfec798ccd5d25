package action

import (
	"context"

	"github.com/roach88/crewflow/internal/model"
)

// EmailHandler implements SEND_EMAIL.
type EmailHandler struct {
	Messenger Messenger
}

func (h *EmailHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.EmailConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	to := req.Context.Text(cfg.RecipientField)
	if to == "" {
		return model.ActionOutcome{}, Configf("no email recipient at %q", cfg.RecipientField)
	}
	msg := Email{
		To:      to,
		From:    cfg.From,
		Subject: req.Context.Render(cfg.Subject),
		Body:    req.Context.Render(cfg.Body),
		HTML:    cfg.HTML,
	}
	receipt, err := h.Messenger.SendEmail(ctx, msg)
	if err != nil {
		return model.ActionOutcome{}, External("send email", err)
	}
	return model.Succeeded("", map[string]any{
		"messageId": receipt.ID,
		"to":        to,
		"subject":   msg.Subject,
	}), nil
}

// SMSHandler implements SEND_SMS.
type SMSHandler struct {
	Messenger Messenger
}

func (h *SMSHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.SMSConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	to := req.Context.Text(cfg.RecipientField)
	if to == "" {
		return model.ActionOutcome{}, Configf("no SMS recipient at %q", cfg.RecipientField)
	}
	receipt, err := h.Messenger.SendSMS(ctx, SMS{To: to, Message: req.Context.Render(cfg.Message)})
	if err != nil {
		return model.ActionOutcome{}, External("send sms", err)
	}
	return model.Succeeded("", map[string]any{
		"messageId": receipt.ID,
		"to":        to,
	}), nil
}
