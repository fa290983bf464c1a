package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageChannel(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{"lobby", Message{Kind: KindLobby, TableID: LobbyTableID}, "lobby"},
		{"table", Message{Kind: KindTable, TableID: "T1"}, "table:T1"},
		{"timer shares table channel", Message{Kind: KindTimer, TableID: "T1"}, "table:T1"},
		{"chat", Message{Kind: KindChat, TableID: "T1"}, "chat:T1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.msg.Channel())
		})
	}
}

func TestDispatchSuppressesLocalEchoes(t *testing.T) {
	var invoked []Message
	handlers := map[ChannelKind]Handler{
		KindLobby: func(m Message) { invoked = append(invoked, m) },
	}

	dispatch(handlers, "instance-1", Message{Kind: KindLobby, SourceID: "instance-1"})
	assert.Empty(t, invoked, "message stamped with the local instance id must not be dispatched")

	dispatch(handlers, "instance-1", Message{Kind: KindLobby, SourceID: "instance-2"})
	require.Len(t, invoked, 1)
	assert.Equal(t, "instance-2", invoked[0].SourceID)
}

func TestDispatchDropsMessagesWithNoSourceID(t *testing.T) {
	called := false
	handlers := map[ChannelKind]Handler{
		KindLobby: func(Message) { called = true },
	}
	dispatch(handlers, "instance-1", Message{Kind: KindLobby})
	assert.False(t, called, "a message with no source id is malformed and must be dropped")
}

func TestDispatchDropsUnknownKind(t *testing.T) {
	called := false
	handlers := map[ChannelKind]Handler{
		KindLobby: func(Message) { called = true },
	}
	dispatch(handlers, "instance-1", Message{Kind: KindChat, SourceID: "instance-2"})
	assert.False(t, called)
}

func TestBusCloseIsIdempotent(t *testing.T) {
	b := &Bus{instanceID: "instance-1"}
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Init(nil)
	assert.Error(t, err, "a closed bus has no connection to subscribe on")

	err = b.Publish(KindLobby, LobbyTableID, nil)
	assert.Error(t, err, "a closed bus has no connection to publish on")
}
