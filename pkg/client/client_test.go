package client

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazachat/plaza/pkg/protocol"
	"github.com/plazachat/plaza/pkg/server"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.TCPPort = 0
	cfg.WSPort = 0
	cfg.MetricsPort = 0

	srv := server.NewServer(cfg)
	require.NoError(t, srv.Start())
	return srv
}

func testConfig(srv *server.Server, username, ip string, port int) Config {
	return Config{
		ServerAddr: srv.Addr().String(),
		LocalIP:    ip,
		LocalPort:  port,
		Username:   username,
	}
}

func recvOn[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		panic("unreachable")
	}
}

func TestClientLoginReceivesRoster(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Stop()

	rosters := make(chan *protocol.RosterMessage, 1)
	c := New(testConfig(srv, "alice", "10.0.0.1", 5001), Handlers{
		OnRoster: func(m *protocol.RosterMessage) { rosters <- m },
	})
	require.NoError(t, c.Connect())
	defer c.Close()

	roster := recvOn(t, rosters)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "alice", roster.Users[0].Username)
	assert.Equal(t, protocol.Address{IP: "10.0.0.1", Port: 5001}, roster.Users[0].Address)
}

func TestClientSquareExchange(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Stop()

	aliceRosters := make(chan *protocol.RosterMessage, 1)
	aliceFriends := make(chan *protocol.FriendLoginMessage, 1)
	alice := New(testConfig(srv, "alice", "10.0.0.1", 5001), Handlers{
		OnRoster:      func(m *protocol.RosterMessage) { aliceRosters <- m },
		OnFriendLogin: func(m *protocol.FriendLoginMessage) { aliceFriends <- m },
	})
	require.NoError(t, alice.Connect())
	defer alice.Close()
	recvOn(t, aliceRosters)

	bobRosters := make(chan *protocol.RosterMessage, 1)
	bobTexts := make(chan *protocol.SquareTextMessage, 1)
	bob := New(testConfig(srv, "bob", "10.0.0.2", 5002), Handlers{
		OnRoster:     func(m *protocol.RosterMessage) { bobRosters <- m },
		OnSquareText: func(m *protocol.SquareTextMessage) { bobTexts <- m },
	})
	require.NoError(t, bob.Connect())
	defer bob.Close()
	recvOn(t, bobRosters)

	friend := recvOn(t, aliceFriends)
	assert.Equal(t, "bob", friend.Username)

	require.NoError(t, alice.SendSquareText("hello plaza"))

	text := recvOn(t, bobTexts)
	assert.Equal(t, "hello plaza", text.Content)
	assert.Equal(t, "alice", text.Username)
	assert.Equal(t, "10.0.0.1", text.IP)
	assert.Equal(t, 5001, text.Port.Int())
}

func TestClientPrivateMedia(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Stop()

	aliceRosters := make(chan *protocol.RosterMessage, 1)
	alice := New(testConfig(srv, "alice", "10.0.0.1", 5001), Handlers{
		OnRoster: func(m *protocol.RosterMessage) { aliceRosters <- m },
	})
	require.NoError(t, alice.Connect())
	defer alice.Close()
	recvOn(t, aliceRosters)

	bobRosters := make(chan *protocol.RosterMessage, 1)
	bobMedia := make(chan *protocol.PrivateMediaMessage, 1)
	bob := New(testConfig(srv, "bob", "10.0.0.2", 5002), Handlers{
		OnRoster:       func(m *protocol.RosterMessage) { bobRosters <- m },
		OnPrivateMedia: func(m *protocol.PrivateMediaMessage) { bobMedia <- m },
	})
	require.NoError(t, bob.Connect())
	defer bob.Close()
	recvOn(t, bobRosters)

	raw := []byte{0x89, 0x50, 0x4E, 0x47, 0x00, 0x01, 0x02}
	require.NoError(t, alice.SendPrivateMedia(protocol.KindImage, "10.0.0.2", 5002, raw, ".png", "pixel.png"))

	media := recvOn(t, bobMedia)
	assert.Equal(t, protocol.KindImage, media.Kind)
	assert.Equal(t, "pixel.png", media.FileName)
	assert.Equal(t, "alice", media.Username)

	decoded, err := DecodeMedia(media.Data)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(raw, decoded))
}

func TestClientLogoutIsCleanDisconnect(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Stop()

	rosters := make(chan *protocol.RosterMessage, 1)
	disconnects := make(chan error, 1)
	c := New(testConfig(srv, "alice", "10.0.0.1", 5001), Handlers{
		OnRoster:     func(m *protocol.RosterMessage) { rosters <- m },
		OnDisconnect: func(err error) { disconnects <- err },
	})
	require.NoError(t, c.Connect())
	recvOn(t, rosters)

	require.NoError(t, c.Logout())

	// A user-initiated logout surfaces with a nil error.
	err := recvOn(t, disconnects)
	assert.NoError(t, err)
}

func TestClientConnectionLossIsDistinct(t *testing.T) {
	srv := newTestServer(t)

	rosters := make(chan *protocol.RosterMessage, 1)
	disconnects := make(chan error, 1)
	c := New(testConfig(srv, "alice", "10.0.0.1", 5001), Handlers{
		OnRoster:     func(m *protocol.RosterMessage) { rosters <- m },
		OnDisconnect: func(err error) { disconnects <- err },
	})
	require.NoError(t, c.Connect())
	recvOn(t, rosters)

	// The server goes away underneath the client.
	require.NoError(t, srv.Stop())

	err := recvOn(t, disconnects)
	assert.Error(t, err)
}

func TestClientLogoutBroadcastReachesPeers(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Stop()

	aliceRosters := make(chan *protocol.RosterMessage, 1)
	aliceLogouts := make(chan *protocol.UserLogoutMessage, 1)
	alice := New(testConfig(srv, "alice", "10.0.0.1", 5001), Handlers{
		OnRoster:     func(m *protocol.RosterMessage) { aliceRosters <- m },
		OnUserLogout: func(m *protocol.UserLogoutMessage) { aliceLogouts <- m },
	})
	require.NoError(t, alice.Connect())
	defer alice.Close()
	recvOn(t, aliceRosters)

	bobRosters := make(chan *protocol.RosterMessage, 1)
	bob := New(testConfig(srv, "bob", "10.0.0.2", 5002), Handlers{
		OnRoster: func(m *protocol.RosterMessage) { bobRosters <- m },
	})
	require.NoError(t, bob.Connect())
	recvOn(t, bobRosters)

	require.NoError(t, bob.Logout())

	logout := recvOn(t, aliceLogouts)
	assert.Equal(t, "bob", logout.Username)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{ServerAddr: "127.0.0.1:8000", LocalIP: "10.0.0.1", LocalPort: 5001, Username: "alice"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing server", mutate: func(c *Config) { c.ServerAddr = "" }},
		{name: "bad server addr", mutate: func(c *Config) { c.ServerAddr = "no-port" }},
		{name: "missing username", mutate: func(c *Config) { c.Username = "" }},
		{name: "missing local ip", mutate: func(c *Config) { c.LocalIP = "" }},
		{name: "port out of range", mutate: func(c *Config) { c.LocalPort = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
