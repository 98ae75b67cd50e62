package extension

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/secondbrain/internal/model"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

type transportFixture struct {
	server *natsserver.Server
	hub    *Hub
	sess   *fakeSession
	flow   *fakeFlow
}

func newTransport(t *testing.T, user *model.User) *transportFixture {
	t.Helper()
	f := &transportFixture{
		server: startTestNATSServer(t),
		hub:    NewHub(nil),
		sess:   &fakeSession{user: user},
		flow:   &fakeFlow{},
	}
	bg := NewBackground(f.sess, f.flow)
	tr := NewNATSTransport(connect(t, f.server), bg, f.hub, WithNotifyTimeout(time.Second))
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return f
}

func TestNATSTransport_RequestReply(t *testing.T) {
	f := newTransport(t, &model.User{ID: "u1", Name: "Alice"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tab, err := ConnectTab(ctx, connect(t, f.server), "tab-1", func(Message) {})
	require.NoError(t, err)

	resp, err := tab.Send(ctx, Message{Type: CheckAuth})
	require.NoError(t, err)
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "Alice", resp.User.Name)

	resp, err = tab.Send(ctx, Message{Type: Logout})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, f.flow.logoutCount())
}

func TestNATSTransport_InvalidMessage(t *testing.T) {
	f := newTransport(t, nil)
	nc := connect(t, f.server)

	reply, err := nc.Request(RequestSubject, []byte("{"), 2*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"authenticated":false,"error":"invalid message"}`, string(reply.Data))

	reply, err = nc.Request(RegisterSubject, []byte(`{}`), 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(reply.Data), "tabId is required")
	assert.Zero(t, f.hub.Len())
}

func TestNATSTransport_BroadcastReachesTabsAndDropsClosedOnes(t *testing.T) {
	f := newTransport(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan string, 4)
	tab1, err := ConnectTab(ctx, connect(t, f.server), "tab-1", func(m Message) { received <- "tab-1:" + string(m.Type) })
	require.NoError(t, err)
	tab2, err := ConnectTab(ctx, connect(t, f.server), "tab-2", func(m Message) { received <- "tab-2:" + string(m.Type) })
	require.NoError(t, err)
	require.Equal(t, 2, f.hub.Len())

	require.NoError(t, tab2.Close())

	n := f.hub.Broadcast(ctx, Message{Type: AuthChanged})

	assert.Equal(t, 1, n)
	assert.Equal(t, "tab-1:AUTH_CHANGED", <-received)
	assert.Equal(t, 1, f.hub.Len())
	assert.Equal(t, "tab-1", tab1.ID())
}
