// Package notify is the notification egress point: a Notifier interface
// with a no-op default, a Telegram adapter, and a bus subscriber that
// forwards notifications, errors and trade results to the configured
// notifier.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/model"
)

// Notifier delivers one operator-facing text line.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Noop discards every notification. Used when no egress is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

// Run forwards bus events to the notifier until ctx is cancelled. Delivery
// failures are logged and do not stop the loop.
func Run(ctx context.Context, sub *bus.Subscription, notifier Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-sub.C():
			if !ok {
				return
			}
			if cmd.Kind == bus.KindExit {
				return
			}
			text := render(cmd)
			if text == "" {
				continue
			}
			if err := notifier.Notify(ctx, text); err != nil {
				log.Warn().Err(err).Msg("notification delivery failed")
			}
		}
	}
}

func render(cmd bus.Command) string {
	switch cmd.Kind {
	case bus.KindNotify:
		if cmd.NotifyInstID != "" {
			return fmt.Sprintf("%s: %s", cmd.NotifyInstID, cmd.NotifyText)
		}
		return cmd.NotifyText
	case bus.KindError:
		return "⚠️ " + cmd.ErrorText
	case bus.KindTradeResult:
		return renderTradeEvent(cmd.TradeResult)
	default:
		return ""
	}
}

func renderTradeEvent(evt model.TradeEvent) string {
	switch {
	case evt.Order != nil:
		icon := "✅"
		if !evt.Order.Success {
			icon = "❌"
		}
		return fmt.Sprintf("%s %s %s %v @ %v — %s",
			icon, evt.Order.InstID, evt.Order.Side, evt.Order.Size, evt.Order.Price, evt.Order.Message)
	case evt.Cancel != nil:
		icon := "✅"
		if !evt.Cancel.Success {
			icon = "❌"
		}
		return fmt.Sprintf("%s cancel %s %s — %s", icon, evt.Cancel.InstID, evt.Cancel.OrdID, evt.Cancel.Message)
	case evt.Fill != nil:
		return fmt.Sprintf("💰 fill %s %s %v @ %v (pnl %v)",
			evt.Fill.InstID, evt.Fill.Side, evt.Fill.Size, evt.Fill.Price, evt.Fill.PNL)
	default:
		return ""
	}
}
