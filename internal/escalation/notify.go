package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Sender delivers a text message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, content string) error
}

// ChannelAdminNotifier informs the operator channel about escalation
// steps.
type ChannelAdminNotifier struct {
	sender    Sender
	recipient string
	logger    *log.Logger
}

// NewChannelAdminNotifier constructs an admin notifier delivering to
// the given operator recipient.
func NewChannelAdminNotifier(sender Sender, recipient string, logger *log.Logger) (*ChannelAdminNotifier, error) {
	if sender == nil {
		return nil, errors.New("escalation: nil sender")
	}
	if recipient == "" {
		return nil, errors.New("escalation: empty recipient")
	}
	return &ChannelAdminNotifier{sender: sender, recipient: recipient, logger: logger}, nil
}

// NotifyEscalation sends the escalation step to the operator channel.
func (n *ChannelAdminNotifier) NotifyEscalation(ctx context.Context, userID string, level int) {
	if n == nil || n.sender == nil {
		return
	}
	content := fmt.Sprintf("Escalation level %d reached for subject %s: emergency still unresolved.", level, userID)
	if err := n.sender.Send(ctx, n.recipient, content); err != nil && n.logger != nil {
		n.logger.Printf("admin notification failed: user=%s level=%d err=%v", userID, level, err)
	}
}
