package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/instagram"
)

// metaCooldown is how long an account sits out after Meta itself throttles
// it. One full window is enough for Meta's own counters to reset.
const metaCooldown = time.Hour

// GraphAutomations answers events through the Graph API. Comments get a
// comment-to-DM response, messages and postbacks get the account's
// acknowledgment text. When Meta throttles an account the directory cooldown
// is set so further sends stop until it clears.
type GraphAutomations struct {
	client    *instagram.Client
	directory instagram.Directory
	auditor   *audit.Service
	log       *slog.Logger
	clock     func() time.Time

	commentReply string
	messageReply string
}

func NewGraphAutomations(client *instagram.Client, directory instagram.Directory, auditor *audit.Service, log *slog.Logger) *GraphAutomations {
	if log == nil {
		log = slog.Default()
	}
	return &GraphAutomations{
		client:       client,
		directory:    directory,
		auditor:      auditor,
		log:          log,
		clock:        time.Now,
		commentReply: "Thanks for your comment! We just sent you a DM.",
		messageReply: "Thanks for reaching out, we'll get back to you shortly.",
	}
}

func (g *GraphAutomations) HandleComment(ctx context.Context, acct instagram.Account, ev CommentEvent) error {
	if err := g.sendable(acct); err != nil {
		return err
	}
	if err := g.client.ReplyToComment(ctx, acct.AccessToken, ev.CommentID, g.commentReply); err != nil {
		return g.apiFailure(ctx, acct, "comment reply", err)
	}
	if ev.FromID != "" {
		if err := g.client.SendMessage(ctx, acct.AccessToken, ev.FromID, g.messageReply); err != nil {
			return g.apiFailure(ctx, acct, "comment dm", err)
		}
	}
	return nil
}

func (g *GraphAutomations) HandleMessage(ctx context.Context, acct instagram.Account, ev MessageEvent) error {
	if err := g.sendable(acct); err != nil {
		return err
	}
	if err := g.client.SendMessage(ctx, acct.AccessToken, ev.SenderID, g.messageReply); err != nil {
		return g.apiFailure(ctx, acct, "message reply", err)
	}
	return nil
}

func (g *GraphAutomations) HandlePostback(ctx context.Context, acct instagram.Account, ev PostbackEvent) error {
	if err := g.sendable(acct); err != nil {
		return err
	}
	if err := g.client.SendMessage(ctx, acct.AccessToken, ev.SenderID, g.messageReply); err != nil {
		return g.apiFailure(ctx, acct, "postback reply", err)
	}
	return nil
}

func (g *GraphAutomations) sendable(acct instagram.Account) error {
	if !acct.IsActive {
		return fmt.Errorf("webhook: account %s is inactive", acct.ID)
	}
	if acct.MetaRateLimited(g.clock()) {
		return fmt.Errorf("webhook: account %s is in meta cooldown", acct.ID)
	}
	return nil
}

// apiFailure records the error and, for throttling responses, parks the
// account. The admission reservation is deliberately not rolled back: the
// call reached Meta and counted.
func (g *GraphAutomations) apiFailure(ctx context.Context, acct instagram.Account, op string, err error) error {
	g.auditor.Trace(ctx, audit.Record{
		TenantID:  acct.TenantID,
		AccountID: acct.ID,
		Type:      audit.RecordTypeMetaError,
		Reason:    err.Error(),
	})
	if instagram.IsRateLimited(err) {
		until := g.clock().UTC().Add(metaCooldown)
		if derr := g.directory.MarkMetaRateLimited(ctx, acct.ID, until); derr != nil {
			g.log.Error("set meta cooldown", "account_id", acct.ID, "error", derr)
		} else {
			g.log.Warn("account cooling down after meta throttle", "account_id", acct.ID, "until", until)
		}
	}
	return fmt.Errorf("webhook: %s: %w", op, err)
}
