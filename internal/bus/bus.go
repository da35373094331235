// Package bus implements the fan-out command bus shared by every component:
// mark-price updates, notifications, errors, trade results, account
// snapshots and AI insights are all published here and drained by whichever
// collaborators subscribed. Fan-out runs over per-subscriber buffered
// channels; a slow receiver drops from the tail instead of blocking the
// publisher.
package bus

import (
	"sync"

	"github.com/okxtrader/agent/internal/model"

	"github.com/rs/zerolog/log"
)

// CommandKind discriminates the tagged variants of a Command.
type CommandKind int

const (
	KindMarkPriceUpdate CommandKind = iota
	KindNotify
	KindError
	KindTradeResult
	KindAccountSnapshot
	KindAiInsight
	KindExit
)

// Command is the broadcast message type. Only the field matching Kind is
// populated; this mirrors a tagged union without resorting to an interface
// type switch at every call site.
type Command struct {
	Kind CommandKind

	// KindMarkPriceUpdate
	MarkPriceInstID      string
	MarkPrice            float64
	MarkPriceTimestampMs int64
	MarkPricePrecision   int

	// KindNotify
	NotifyInstID string
	NotifyText   string

	// KindError
	ErrorText string

	// KindTradeResult
	TradeResult model.TradeEvent

	// KindAccountSnapshot
	Snapshot model.AccountSnapshot

	// KindAiInsight
	AiInsightText string
}

func MarkPriceUpdate(instID string, price float64, ts int64, precision int) Command {
	return Command{Kind: KindMarkPriceUpdate, MarkPriceInstID: instID, MarkPrice: price, MarkPriceTimestampMs: ts, MarkPricePrecision: precision}
}

func Notify(instID, text string) Command {
	return Command{Kind: KindNotify, NotifyInstID: instID, NotifyText: text}
}

func ErrorMsg(text string) Command {
	return Command{Kind: KindError, ErrorText: text}
}

func TradeResult(evt model.TradeEvent) Command {
	return Command{Kind: KindTradeResult, TradeResult: evt}
}

func AccountSnapshot(snap model.AccountSnapshot) Command {
	return Command{Kind: KindAccountSnapshot, Snapshot: snap}
}

func AiInsight(text string) Command {
	return Command{Kind: KindAiInsight, AiInsightText: text}
}

func Exit() Command { return Command{Kind: KindExit} }

// subscriberCapacity bounds each subscriber's buffer; publishing to a full
// subscriber drops the oldest queued message rather than blocking the
// publisher.
const subscriberCapacity = 256

// Bus is the fan-out broadcaster. The zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Command
	nextID      int
}

func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Command)}
}

// Subscription is a receive-only handle returned by Subscribe. Call
// Unsubscribe when the collaborator is done to release the channel.
type Subscription struct {
	id int
	ch chan Command
	b  *Bus
}

func (s *Subscription) C() <-chan Command { return s.ch }

func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subscribers, s.id)
	close(s.ch)
}

func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Command, subscriberCapacity)
	b.subscribers[id] = ch
	return &Subscription{id: id, ch: ch, b: b}
}

// Send publishes a command to every current subscriber. If a subscriber's
// buffer is full, the oldest buffered message is dropped to make room —
// broadcast overflow is lossy by design since this channel only ever
// carries telemetry/notification data, never commands the caller must not
// lose (those go through the bounded TradingCommand queue instead).
func (b *Bus) Send(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- cmd:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cmd:
			default:
				log.Warn().Int("subscriber", id).Msg("command bus subscriber still full after drop, skipping")
			}
		}
	}
}
