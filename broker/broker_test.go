package broker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunnylib/databus/heap"
)

func newTestBroker(t *testing.T, size int) (*Broker, *heap.Arena) {
	t.Helper()

	arena, err := heap.New(make([]byte, size))
	require.NoError(t, err)
	return New(arena), arena
}

func Test_Broker_CreateAccount(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	assert.True(t, b.CreateAccount("sensor", 16, nil))
	assert.Equal(t, 1, b.Count())

	acc, ok := b.Account("sensor")
	require.True(t, ok)
	assert.Equal(t, "sensor", acc.ID())
	assert.Equal(t, 16, acc.CacheSize())

	assert.False(t, b.CreateAccount("sensor", 0, nil), "duplicate id")
	assert.False(t, b.CreateAccount("", 0, nil), "empty id")
	assert.Equal(t, 1, b.Count())
}

func Test_Broker_CreateAccountUserData(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	type ctx struct{ hits int }
	data := &ctx{}

	require.True(t, b.CreateAccount("sensor", 0, data))

	acc, ok := b.Account("sensor")
	require.True(t, ok)
	assert.Same(t, data, acc.UserData())
}

func Test_Broker_CreateAccountRollsBackOnAllocationFailure(t *testing.T) {
	// The arena fits the account name but not the cache.
	b, arena := newTestBroker(t, 48)

	assert.False(t, b.CreateAccount("a", 1000, nil))
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 0, arena.Stats().Allocations, "partial allocations rolled back")
}

func Test_Broker_DeleteAccount(t *testing.T) {
	b, arena := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("sensor", 16, nil))
	allocs := arena.Stats().Allocations

	assert.False(t, b.DeleteAccount("display"), "unknown account")

	assert.True(t, b.DeleteAccount("sensor"))
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, allocs-2, arena.Stats().Allocations, "name and cache returned")

	_, ok := b.Account("sensor")
	assert.False(t, ok)
}

func Test_Broker_DeleteAccountTearsDownEdges(t *testing.T) {
	b, arena := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 16, nil))
	require.True(t, b.CreateAccount("B", 0, nil))
	require.True(t, b.CreateAccount("C", 0, nil))

	require.True(t, b.Subscribe("B", "A"))
	require.True(t, b.Subscribe("C", "A"))
	require.True(t, b.Subscribe("A", "C"))

	allocs := arena.Stats().Allocations

	require.True(t, b.DeleteAccount("A"))

	assert.NotContains(t, b.Publishers("B"), "A")
	assert.NotContains(t, b.Publishers("C"), "A")
	assert.NotContains(t, b.Subscribers("C"), "A")
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, allocs-2, arena.Stats().Allocations, "no leaked arena blocks")
}

func Test_Broker_SubscribeSymmetry(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 0, nil))
	require.True(t, b.CreateAccount("B", 0, nil))

	require.True(t, b.Subscribe("B", "A"))

	assert.Equal(t, []string{"A"}, b.Publishers("B"))
	assert.Equal(t, []string{"B"}, b.Subscribers("A"))
	assert.Empty(t, b.Publishers("A"))
	assert.Empty(t, b.Subscribers("B"))
}

func Test_Broker_SubscribeRejections(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 0, nil))
	require.True(t, b.CreateAccount("B", 0, nil))

	assert.False(t, b.Subscribe("A", "A"), "self subscription")
	assert.False(t, b.Subscribe("B", "ghost"), "unknown publisher")
	assert.False(t, b.Subscribe("ghost", "A"), "unknown subscriber")

	require.True(t, b.Subscribe("B", "A"))
	assert.False(t, b.Subscribe("B", "A"), "duplicate edge")
	assert.Equal(t, []string{"A"}, b.Publishers("B"))
}

func Test_Broker_UnsubscribeRoundTrip(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 0, nil))
	require.True(t, b.CreateAccount("B", 0, nil))
	require.True(t, b.CreateAccount("C", 0, nil))
	require.True(t, b.Subscribe("C", "A"))

	type graph struct {
		Publishers  map[string][]string
		Subscribers map[string][]string
	}
	dump := func() graph {
		g := graph{
			Publishers:  make(map[string][]string),
			Subscribers: make(map[string][]string),
		}
		for _, id := range []string{"A", "B", "C"} {
			g.Publishers[id] = b.Publishers(id)
			g.Subscribers[id] = b.Subscribers(id)
		}
		return g
	}

	before := dump()

	require.True(t, b.Subscribe("B", "A"))
	require.True(t, b.Unsubscribe("B", "A"))

	if diff := cmp.Diff(before, dump()); diff != "" {
		t.Fatalf("graph mismatch after subscribe/unsubscribe round trip (-want +got):\n%s", diff)
	}
}

func Test_Broker_UnsubscribeRejections(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 0, nil))
	require.True(t, b.CreateAccount("B", 0, nil))

	assert.False(t, b.Unsubscribe("A", "A"), "self")
	assert.False(t, b.Unsubscribe("B", "A"), "no edge")
	assert.False(t, b.Unsubscribe("B", "ghost"), "unknown publisher")
}

func Test_Broker_SubscribeFunc(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 16, nil))
	require.True(t, b.CreateAccount("B", 0, nil))

	got := make([]byte, 0, 16)
	type tag struct{ name string }
	ctx := &tag{name: "b-ctx"}

	cb := func(ev *Event, userCtx any) Result {
		assert.Same(t, ctx, userCtx)
		assert.Equal(t, EventPublish, ev.Kind)
		got = append(got[:0], ev.Data...)
		return ResOK
	}

	assert.False(t, b.SubscribeFunc("B", "A", nil, ctx), "nil callback")
	require.True(t, b.SubscribeFunc("B", "A", cb, ctx))
	assert.False(t, b.SubscribeFunc("B", "A", cb, ctx), "duplicate by subscriber id")

	require.True(t, b.Commit("A", []byte("0123456789abcdef")))
	assert.Equal(t, ResOK, b.Publish("A"))
	assert.Equal(t, "0123456789abcdef", string(got))
}

func Test_Broker_UnsubscribeFuncMatchesIdentity(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 0, nil))
	require.True(t, b.CreateAccount("B", 0, nil))

	ctx := "edge-ctx"
	cb := func(ev *Event, userCtx any) Result { return ResOK }
	other := func(ev *Event, userCtx any) Result { return ResOK }

	require.True(t, b.SubscribeFunc("B", "A", cb, ctx))

	assert.False(t, b.UnsubscribeFunc("B", "A", cb, "wrong-ctx"))
	assert.False(t, b.UnsubscribeFunc("B", "A", other, ctx))
	assert.False(t, b.UnsubscribeFunc("C", "A", cb, ctx))

	assert.True(t, b.UnsubscribeFunc("B", "A", cb, ctx))
	assert.Empty(t, b.Publishers("B"))
	assert.Empty(t, b.Subscribers("A"))

	assert.False(t, b.UnsubscribeFunc("B", "A", cb, ctx), "already removed")
}

func Test_Broker_AccountsGlob(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("sensor.temp", 0, nil))
	require.True(t, b.CreateAccount("sensor.gyro", 0, nil))
	require.True(t, b.CreateAccount("display", 0, nil))

	all, err := b.Accounts("*")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.temp", "sensor.gyro", "display"}, all)

	sensors, err := b.Accounts("sensor.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.temp", "sensor.gyro"}, sensors)

	_, err = b.Accounts("[")
	assert.Error(t, err)
}

func Test_Broker_Close(t *testing.T) {
	b, arena := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 16, nil))
	require.True(t, b.CreateAccount("B", 32, nil))
	require.True(t, b.Subscribe("B", "A"))

	b.Close()

	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 0, arena.Stats().Allocations)
}

func Test_Broker_RegisterCallback(t *testing.T) {
	b, _ := newTestBroker(t, 4096)

	require.True(t, b.CreateAccount("A", 0, nil))

	assert.True(t, b.RegisterCallback("A", func(acc *Account, ev *Event) Result { return ResOK }))
	assert.False(t, b.RegisterCallback("ghost", func(acc *Account, ev *Event) Result { return ResOK }))
}
