package hooks

import (
	"errors"
	"testing"

	"github.com/localrivet/gotdl/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilSetPassesThrough(t *testing.T) {
	var s *Set
	req := protocol.NewObject("getMe", nil)

	out, err := s.RunBeforeSend(HookContext{}, req)
	require.NoError(t, err)
	assert.Equal(t, req, out)

	raw, err := s.RunOnReceiveRaw(HookContext{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), raw)

	res, err := s.RunBeforeHandleResponse(HookContext{}, req)
	require.NoError(t, err)
	assert.Equal(t, req, res)

	assert.NoError(t, s.RunBeforeHandleUpdate(HookContext{}, req))
}

func TestBeforeSendChain(t *testing.T) {
	var order []string
	s := &Set{BeforeSend: []BeforeSendHook{
		func(hc HookContext, req protocol.Object) (protocol.Object, error) {
			order = append(order, "first:"+hc.Type)
			req["a"] = 1
			return req, nil
		},
		func(hc HookContext, req protocol.Object) (protocol.Object, error) {
			order = append(order, "second")
			// nil keeps the request as is
			return nil, nil
		},
	}}

	out, err := s.RunBeforeSend(HookContext{Type: "getMe"}, protocol.NewObject("getMe", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, out["a"])
	assert.Equal(t, []string{"first:getMe", "second"}, order)
}

func TestHookErrorStopsChain(t *testing.T) {
	errStop := errors.New("stop")
	called := false
	s := &Set{
		OnReceiveRaw: []OnReceiveRawHook{
			func(HookContext, []byte) ([]byte, error) { return nil, errStop },
			func(HookContext, []byte) ([]byte, error) { called = true; return nil, nil },
		},
		BeforeHandleUpdate: []BeforeHandleUpdateHook{
			func(HookContext, protocol.Object) error { return errStop },
		},
		BeforeHandleResponse: []BeforeHandleResponseHook{
			func(HookContext, protocol.Object) (protocol.Object, error) { return nil, errStop },
		},
	}

	_, err := s.RunOnReceiveRaw(HookContext{}, []byte("x"))
	assert.ErrorIs(t, err, errStop)
	assert.False(t, called)
	assert.ErrorIs(t, s.RunBeforeHandleUpdate(HookContext{}, nil), errStop)
	_, err = s.RunBeforeHandleResponse(HookContext{}, nil)
	assert.ErrorIs(t, err, errStop)
}
