package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport/inmemory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(value string) func(context.Context, bool) (string, error) {
	return func(context.Context, bool) (string, error) { return value, nil }
}

// sequence answers with values in turn and records the retry flags it saw.
type sequence struct {
	values  []string
	retries []bool
}

func (s *sequence) next(_ context.Context, retry bool) (string, error) {
	s.retries = append(s.retries, retry)
	if len(s.values) == 0 {
		return "", errors.New("out of values")
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, nil
}

func connected(t *testing.T, account inmemory.Account, options ...Option) (*Client, *inmemory.Simulator, *inmemory.Backend) {
	t.Helper()
	c, sim, backend := newSimulated(t, account, options...)
	require.NoError(t, c.Connect(context.Background()))
	return c, sim, backend
}

func TestLoginBeforeConnect(t *testing.T) {
	c, _, _ := newSimulated(t, inmemory.Account{})
	err := c.Login(context.Background(), func() LoginDetails { return BotToken("x") })
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBotLogin(t *testing.T) {
	c, sim, backend := connected(t, inmemory.Account{BotToken: "123:abc"})

	var needed, notNeeded recorder[struct{}]
	On(c, EventAuthNeeded, needed.add)
	On(c, EventAuthNotNeeded, notNeeded.add)

	factoryCalls := 0
	err := c.Login(context.Background(), func() LoginDetails {
		factoryCalls++
		return BotToken("123:abc")
	})
	require.NoError(t, err)

	assert.Equal(t, 1, factoryCalls)
	assert.Equal(t, 1, needed.len())
	assert.Zero(t, notNeeded.len())
	assert.Equal(t, protocol.AuthStateReady, sim.State())
	assert.True(t, c.AuthorizationState().IsReady())
	assert.NotContains(t, backend.LastSession().ReceivedTypes(), protocol.MethodSetAuthenticationPhoneNumber)

	me, err := c.Invoke(context.Background(), protocol.NewObject("getMe", nil))
	require.NoError(t, err)
	assert.Equal(t, "bot", me["first_name"])
}

func TestBotLoginRetriesRejectedToken(t *testing.T) {
	c, _, _ := connected(t, inmemory.Account{BotToken: "123:abc"})

	tokens := &sequence{values: []string{"bad", "123:abc"}}
	err := c.Login(context.Background(), func() LoginDetails {
		return &BotLogin{GetToken: tokens.next}
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, tokens.retries)
}

func TestUserLogin(t *testing.T) {
	c, sim, backend := connected(t, inmemory.Account{PhoneNumber: "+15550100", Code: "12345"})

	err := c.Login(context.Background(), func() LoginDetails {
		return &UserLogin{
			GetPhoneNumber: fixed("+15550100"),
			GetAuthCode:    fixed("12345"),
		}
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.AuthStateReady, sim.State())
	assert.Equal(t, []string{
		protocol.MethodSetTdlibParameters,
		protocol.MethodSetAuthenticationPhoneNumber,
		protocol.MethodCheckAuthenticationCode,
	}, backend.LastSession().ReceivedTypes())
}

func TestUserLoginRetriesRejectedCode(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c, _, _ := connected(t, inmemory.Account{PhoneNumber: "+15550100", Code: "12345"}, WithMetrics(m))

	codes := &sequence{values: []string{"00000", "11111", "12345"}}
	err := c.Login(context.Background(), func() LoginDetails {
		return &UserLogin{
			GetPhoneNumber: fixed("+15550100"),
			GetAuthCode:    codes.next,
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, codes.retries)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.loginSubmissions.WithLabelValues(string(FieldAuthCode), "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.loginSubmissions.WithLabelValues(string(FieldAuthCode), "accepted")))
}

func TestUserLoginCallbackError(t *testing.T) {
	c, _, _ := connected(t, inmemory.Account{PhoneNumber: "+15550100", Code: "12345"})

	errGaveUp := errors.New("gave up")
	phones := &sequence{values: []string{"+10000000"}}
	err := c.Login(context.Background(), func() LoginDetails {
		return &UserLogin{GetPhoneNumber: func(ctx context.Context, retry bool) (string, error) {
			if retry {
				return "", errGaveUp
			}
			return phones.next(ctx, retry)
		}}
	})

	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, FieldPhoneNumber, lerr.Field)
	assert.ErrorIs(t, err, errGaveUp)
	assert.True(t, IsLoginError(err))
}

func TestUserLoginWithPasswordAndRegistration(t *testing.T) {
	c, sim, _ := connected(t, inmemory.Account{
		PhoneNumber:  "+15550100",
		Code:         "12345",
		Password:     "hunter2",
		PasswordHint: "classic",
		Unregistered: true,
	})

	var hints []string
	passwords := &sequence{values: []string{"wrong", "hunter2"}}
	names := 0
	err := c.Login(context.Background(), func() LoginDetails {
		return &UserLogin{
			GetPhoneNumber: fixed("+15550100"),
			GetAuthCode:    fixed("12345"),
			GetName: func(ctx context.Context, retry bool) (Name, error) {
				names++
				return Name{FirstName: "Ada", LastName: "Lovelace"}, nil
			},
			GetPassword: func(ctx context.Context, hint string, retry bool) (string, error) {
				hints = append(hints, hint)
				return passwords.next(ctx, retry)
			},
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, names)
	assert.Equal(t, []string{"classic", "classic"}, hints)
	assert.Equal(t, []bool{false, true}, passwords.retries)
	assert.Equal(t, protocol.AuthStateReady, sim.State())

	me, err := c.Invoke(context.Background(), protocol.NewObject("getMe", nil))
	require.NoError(t, err)
	assert.Equal(t, "Ada", me["first_name"])
	assert.Equal(t, "Lovelace", me["last_name"])
}

func TestUserLoginWithEmail(t *testing.T) {
	c, _, backend := connected(t, inmemory.Account{
		PhoneNumber: "+15550100",
		Code:        "12345",
		Email:       "ada@example.com",
		EmailCode:   "777",
	})

	err := c.Login(context.Background(), func() LoginDetails {
		return &UserLogin{
			GetPhoneNumber:  fixed("+15550100"),
			GetEmailAddress: fixed("ada@example.com"),
			GetEmailCode:    fixed("777"),
			GetAuthCode:     fixed("12345"),
		}
	})
	require.NoError(t, err)

	reqs := backend.LastSession().Received()
	require.Len(t, reqs, 5)
	assert.Equal(t, "ada@example.com", reqs[2]["email_address"])
	code := reqs[3].Object("code")
	assert.Equal(t, protocol.TypeEmailAddressAuthenticationCode, code.Type())
	assert.Equal(t, "777", code["code"])
}

func TestLoginNotNeeded(t *testing.T) {
	c, _, _ := connected(t, inmemory.Account{Authorized: true})

	var needed, notNeeded recorder[struct{}]
	On(c, EventAuthNeeded, needed.add)
	On(c, EventAuthNotNeeded, notNeeded.add)

	called := false
	err := c.Login(context.Background(), func() LoginDetails {
		called = true
		return BotToken("unused")
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, notNeeded.len())
	assert.Zero(t, needed.len())
}

func TestLoginInProgress(t *testing.T) {
	c, _, _ := connected(t, inmemory.Account{PhoneNumber: "+15550100", Code: "12345"})

	asked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Login(context.Background(), func() LoginDetails {
			return &UserLogin{
				GetPhoneNumber: func(context.Context, bool) (string, error) {
					close(asked)
					<-release
					return "+15550100", nil
				},
				GetAuthCode: fixed("12345"),
			}
		})
	}()

	<-asked
	err := c.Login(context.Background(), func() LoginDetails { return BotToken("x") })
	assert.ErrorIs(t, err, ErrLoginInProgress)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("login did not finish")
	}
}

func TestDestroyDuringLogin(t *testing.T) {
	// The phone number is accepted but the backend never moves on.
	c, backend := newScripted(t, echoHandler, testConfig())
	require.NoError(t, backend.LastSession().Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": update(protocol.AuthStateWaitPhoneNumber),
	})))
	require.Eventually(t, func() bool {
		return c.AuthorizationState().Type == protocol.AuthStateWaitPhoneNumber
	}, waitFor, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- c.Login(context.Background(), func() LoginDetails {
			return &UserLogin{GetPhoneNumber: fixed("+15550100")}
		})
	}()
	require.Eventually(t, func() bool {
		return len(backend.LastSession().Received()) == 1
	}, waitFor, 5*time.Millisecond)

	c.Destroy()
	select {
	case err := <-done:
		assert.True(t, IsLoginError(err))
		assert.ErrorIs(t, err, ErrDestroyed)
	case <-time.After(waitFor):
		t.Fatal("login was not aborted")
	}
	assert.ErrorIs(t, c.Login(context.Background(), nil), ErrDestroyed)
}

func TestDestroyInterruptsLoginCallback(t *testing.T) {
	c, backend := newScripted(t, echoHandler, testConfig())
	require.NoError(t, backend.LastSession().Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": update(protocol.AuthStateWaitPhoneNumber),
	})))
	require.Eventually(t, func() bool {
		return c.AuthorizationState().Type == protocol.AuthStateWaitPhoneNumber
	}, waitFor, 5*time.Millisecond)

	asked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Login(context.Background(), func() LoginDetails {
			return &UserLogin{GetPhoneNumber: func(ctx context.Context, retry bool) (string, error) {
				close(asked)
				<-ctx.Done()
				return "", ctx.Err()
			}}
		})
	}()
	select {
	case <-asked:
	case <-time.After(waitFor):
		t.Fatal("phone number was never requested")
	}

	c.Destroy()
	select {
	case err := <-done:
		var lerr *LoginError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, FieldPhoneNumber, lerr.Field)
		assert.ErrorIs(t, err, ErrDestroyed)
	case <-time.After(waitFor):
		t.Fatal("login still pending after Destroy")
	}
	assert.Empty(t, backend.LastSession().Received())
}

func TestLoginFailsWhenBackendCloses(t *testing.T) {
	c, backend := newScripted(t, echoHandler, testConfig())

	session := backend.LastSession()
	require.NoError(t, session.Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": update(protocol.AuthStateClosing),
	})))
	require.Eventually(t, func() bool {
		return c.AuthorizationState().Type == protocol.AuthStateClosing
	}, waitFor, 5*time.Millisecond)

	err := c.Login(context.Background(), func() LoginDetails { return BotToken("x") })
	assert.True(t, IsLoginError(err))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBotLoginInWrongState(t *testing.T) {
	c, backend := newScripted(t, echoHandler, testConfig())

	require.NoError(t, backend.LastSession().Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": update(protocol.AuthStateWaitCode),
	})))
	require.Eventually(t, func() bool {
		return c.AuthorizationState().Type == protocol.AuthStateWaitCode
	}, waitFor, 5*time.Millisecond)

	err := c.Login(context.Background(), func() LoginDetails { return BotToken("x") })
	assert.ErrorIs(t, err, ErrUnexpectedState)
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
}

func TestOtherDeviceConfirmation(t *testing.T) {
	backend := inmemory.New(func(s *inmemory.Session, req protocol.Object) {
		if req.Type() == protocol.MethodSetAuthenticationPhoneNumber {
			_ = s.Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
				"authorization_state": protocol.NewObject(protocol.AuthStateWaitOtherDeviceConfirmation, map[string]interface{}{
					"link": "tg://login?token=abc",
				}),
			}))
		}
		_ = s.ReplyOK(req)
	})
	cfg := testConfig()
	cfg.DisableAuth = true
	c, err := New(backend, cfg)
	require.NoError(t, err)
	defer c.Destroy()
	require.NoError(t, c.Connect(context.Background()))

	session := backend.LastSession()
	require.NoError(t, session.Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": update(protocol.AuthStateWaitPhoneNumber),
	})))
	require.Eventually(t, func() bool {
		return c.AuthorizationState().Type == protocol.AuthStateWaitPhoneNumber
	}, waitFor, 5*time.Millisecond)

	links := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Login(context.Background(), func() LoginDetails {
			return &UserLogin{
				GetPhoneNumber:         fixed("+15550100"),
				ConfirmOnAnotherDevice: func(link string) { links <- link },
			}
		})
	}()

	select {
	case link := <-links:
		assert.Equal(t, "tg://login?token=abc", link)
	case <-time.After(waitFor):
		t.Fatal("confirmation link not shown")
	}

	// The other device confirms.
	require.NoError(t, session.Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": update(protocol.AuthStateReady),
	})))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("login did not finish")
	}
}

func TestLoginPhases(t *testing.T) {
	c, _, _ := connected(t, inmemory.Account{BotToken: "123:abc"})

	var phases []string
	n := &negotiator{
		c:       c,
		factory: func() LoginDetails { return BotToken("123:abc") },
		retry:   make(map[Field]bool),
		observe: func(phase LoginPhase, field Field) {
			phases = append(phases, strings.TrimSpace(phase.String()+" "+string(field)))
		},
	}
	require.NoError(t, n.run(context.Background()))
	assert.Equal(t, []string{
		"awaiting type",
		"collecting field bot token",
		"submitting bot token",
		"done",
	}, phases)
}

func TestLoginPromptsForMissingCallbacks(t *testing.T) {
	var out bytes.Buffer
	prompter := NewPrompter(strings.NewReader("+15550100\n12345\n"), &out)
	c, _, _ := connected(t, inmemory.Account{PhoneNumber: "+15550100", Code: "12345"}, WithPrompter(prompter))

	require.NoError(t, c.Login(context.Background(), nil))
	assert.Contains(t, out.String(), "Enter phone number: ")
	assert.Contains(t, out.String(), "Enter code: ")
}

func TestConnectAndLogin(t *testing.T) {
	c, sim, _ := newSimulated(t, inmemory.Account{BotToken: "123:abc"})
	require.NoError(t, c.ConnectAndLogin(context.Background(), func() LoginDetails {
		return BotToken("123:abc")
	}))
	assert.Equal(t, protocol.AuthStateReady, sim.State())
}
