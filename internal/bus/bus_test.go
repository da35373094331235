package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendFansOutToEverySubscriber(t *testing.T) {
	b := New()
	first := b.Subscribe()
	second := b.Subscribe()
	defer first.Unsubscribe()
	defer second.Unsubscribe()

	b.Send(Notify("BTC-USDT-SWAP", "hello"))

	for _, sub := range []*Subscription{first, second} {
		cmd := <-sub.C()
		require.Equal(t, KindNotify, cmd.Kind)
		assert.Equal(t, "hello", cmd.NotifyText)
	}
}

func TestUnsubscribedReceiverGetsNothingFurther(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()

	b.Send(ErrorMsg("boom"))

	_, open := <-sub.C()
	assert.False(t, open, "channel is closed after unsubscribe")
}

func TestOverflowDropsOldestInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < subscriberCapacity+10; i++ {
		b.Send(AiInsight("insight"))
	}
	b.Send(Notify("BTC-USDT-SWAP", "newest"))

	var sawNewest bool
	for {
		select {
		case cmd := <-sub.C():
			if cmd.Kind == KindNotify && cmd.NotifyText == "newest" {
				sawNewest = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawNewest, "the newest message survives, older ones were dropped")
}
