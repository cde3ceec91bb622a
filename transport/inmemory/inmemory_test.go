package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s transport.Session) protocol.Object {
	t.Helper()
	data, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, data, "timed out waiting for a message")
	o, err := protocol.FromWire(data)
	require.NoError(t, err)
	return o
}

func send(t *testing.T, s transport.Session, o protocol.Object) {
	t.Helper()
	data, err := protocol.ToWire(o, false)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), data))
}

func TestHandlerReplies(t *testing.T) {
	b := New(func(s *Session, req protocol.Object) {
		_ = s.Reply(req, protocol.NewObject("testString", map[string]interface{}{"value": req["x"]}))
	})
	assert.Equal(t, DefaultName, b.Name())

	session, err := b.Open(context.Background())
	require.NoError(t, err)
	defer session.Close()

	send(t, session, protocol.Object{"_": "testCallString", "x": "hi", "@extra": "e1"})
	reply := receive(t, session)
	assert.Equal(t, "testString", reply.Type())
	assert.Equal(t, "hi", reply["value"])
	extra, ok := reply.Extra()
	assert.True(t, ok)
	assert.Equal(t, "e1", extra)

	assert.Equal(t, []string{"testCallString"}, b.LastSession().ReceivedTypes())
}

func TestRequestsHandledInOrder(t *testing.T) {
	b := New(func(s *Session, req protocol.Object) {
		_ = s.ReplyOK(req)
	})
	session, err := b.Open(context.Background())
	require.NoError(t, err)
	defer session.Close()

	for _, id := range []string{"1", "2", "3"} {
		send(t, session, protocol.Object{"_": "testCallEmpty", "@extra": id})
	}
	for _, want := range []string{"1", "2", "3"} {
		got, _ := receive(t, session).Extra()
		assert.Equal(t, want, got)
	}
}

func TestReceiveTimeoutAndClose(t *testing.T) {
	b := New(nil)
	session, err := b.Open(context.Background())
	require.NoError(t, err)

	data, err := session.Receive(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	assert.True(t, b.LastSession().Closed())

	_, err = session.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, session.Send(context.Background(), []byte(`{"@type":"x"}`)), transport.ErrClosed)
	assert.ErrorIs(t, b.LastSession().Push(protocol.NewObject("x", nil)), transport.ErrClosed)
}

func TestOpenError(t *testing.T) {
	boom := errors.New("library not found")
	b := New(nil, WithOpenError(boom))
	_, err := b.Open(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.Sessions())
}

func TestExecute(t *testing.T) {
	b := New(nil)
	_, err := b.Execute([]byte(`{"@type":"getTextEntities"}`))
	assert.ErrorIs(t, err, transport.ErrExecuteUnsupported)

	b = New(nil, WithExecutor(func(req protocol.Object) protocol.Object {
		return protocol.NewObject("logVerbosityLevel", map[string]interface{}{"verbosity_level": 2})
	}))
	out, err := b.Execute([]byte(`{"@type":"getLogVerbosityLevel","@extra":"x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"@type":"logVerbosityLevel","verbosity_level":2,"@extra":"x"}`, string(out))
}

func TestFatalCallback(t *testing.T) {
	b := New(nil)
	var got string
	b.SetFatalErrorCallback(func(message string) { got = message })
	b.Fatal("database is locked")
	assert.Equal(t, "database is locked", got)
}

func TestSimulatorBotFlow(t *testing.T) {
	sim := NewSimulator(Account{BotToken: "123:abc"})
	b := sim.Backend()
	assert.Equal(t, "simulator", b.Name())

	session, err := b.Open(context.Background())
	require.NoError(t, err)
	defer session.Close()

	version, ok := protocol.VersionOf(receive(t, session))
	require.True(t, ok)
	assert.Equal(t, SimulatorVersion, version)

	state, ok := protocol.AuthorizationStateOf(receive(t, session))
	require.True(t, ok)
	assert.Equal(t, protocol.AuthStateWaitTdlibParameters, state.Type)

	send(t, session, protocol.Object{"_": protocol.MethodSetTdlibParameters, "api_id": 1, "@extra": "p"})
	state, _ = protocol.AuthorizationStateOf(receive(t, session))
	assert.Equal(t, protocol.AuthStateWaitPhoneNumber, state.Type)
	assert.Equal(t, protocol.TypeOk, receive(t, session).Type())

	send(t, session, protocol.Object{"_": protocol.MethodCheckAuthenticationBotToken, "token": "wrong", "@extra": "t1"})
	e, ok := protocol.AsError(receive(t, session))
	require.True(t, ok)
	assert.True(t, e.Retryable())

	send(t, session, protocol.Object{"_": protocol.MethodCheckAuthenticationBotToken, "token": "123:abc", "@extra": "t2"})
	conn, ok := protocol.ConnectionStateOf(receive(t, session))
	require.True(t, ok)
	assert.Equal(t, protocol.ConnectionStateReady, conn)
	state, _ = protocol.AuthorizationStateOf(receive(t, session))
	assert.Equal(t, protocol.AuthStateReady, state.Type)
	assert.Equal(t, protocol.AuthStateReady, sim.State())
}

func TestSimulatorExecute(t *testing.T) {
	sim := NewSimulator(Account{})
	b := sim.Backend()

	out, err := b.Execute([]byte(`{"@type":"setLogVerbosityLevel","new_verbosity_level":0}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"@type":"ok"}`, string(out))
	assert.Equal(t, 0, sim.Verbosity())

	out, err = b.Execute([]byte(`{"@type":"getMe"}`))
	require.NoError(t, err)
	o, _ := protocol.FromWire(out)
	e, ok := protocol.AsError(o)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeInvalidInput, e.Code)
}
