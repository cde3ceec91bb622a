package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/localrivet/gotdl/protocol"
)

// Login drives the login negotiation until the backend reports the session
// is authorized. factory is called once, lazily, the first time a credential
// is needed; a nil factory logs in as a user prompting on the terminal.
//
// If the backend is already authorized, EventAuthNotNeeded is emitted and no
// callback runs. Otherwise EventAuthNeeded is emitted once before the first
// credential is collected. A value the backend rejects as invalid is asked
// for again with retry set, until the callback returns an error. Failures
// are returned as *LoginError. Only one Login may run at a time.
//
// The ctx handed to callbacks is cancelled by Destroy; Login then fails with
// a *LoginError wrapping ErrDestroyed.
func (c *Client) Login(ctx context.Context, factory func() LoginDetails) error {
	c.mu.Lock()
	switch {
	case c.isDestroyed():
		err := c.destroyErr
		c.mu.Unlock()
		return err
	case c.session == nil:
		c.mu.Unlock()
		return ErrNotConnected
	case c.loggingIn:
		c.mu.Unlock()
		return ErrLoginInProgress
	}
	c.loggingIn = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loggingIn = false
		c.mu.Unlock()
	}()

	ctx, cancel := c.boundContext(ctx)
	defer cancel()

	n := &negotiator{c: c, factory: factory, retry: make(map[Field]bool)}
	return n.run(ctx)
}

// boundContext returns a child of parent that is also cancelled when the
// client is torn down, so callbacks blocked on it return.
func (c *Client) boundContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.destroyed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// negotiator is one login attempt.
type negotiator struct {
	c       *Client
	factory func() LoginDetails
	details LoginDetails
	phase   LoginPhase
	field   Field
	retry   map[Field]bool
	// observe, when set, is told about every phase change.
	observe func(phase LoginPhase, field Field)
}

func (n *negotiator) enter(phase LoginPhase, field Field) {
	if n.phase == phase && n.field == field {
		return
	}
	n.c.logger.Debug("login: %s -> %s %s", n.phase, phase, field)
	n.phase, n.field = phase, field
	if n.observe != nil {
		n.observe(phase, field)
	}
}

func (n *negotiator) fail(field Field, message string, cause error) error {
	n.enter(PhaseError, field)
	select {
	case <-n.c.destroyed:
		// Whatever the callback or request returned, teardown interrupted it.
		cause = n.c.destroyErr
	default:
	}
	return NewLoginError(field, message, cause)
}

func (n *negotiator) run(ctx context.Context) error {
	state, version := n.c.authSnapshot()
	for {
		switch {
		case state.IsReady():
			if n.details == nil {
				n.c.logger.Info("already logged in")
				emit(n.c, EventAuthNotNeeded, struct{}{})
			} else {
				n.c.logger.Info("logged in")
			}
			n.enter(PhaseDone, FieldNone)
			return nil

		case state.IsTerminal():
			return n.fail(n.field, "backend is closing", ErrClosed)

		case state.NeedsInput():
			if n.details == nil {
				n.enter(PhaseAwaitingType, FieldNone)
				emit(n.c, EventAuthNeeded, struct{}{})
				n.details = n.resolve()
			}

			field, req, err := n.collect(ctx, state)
			if err != nil {
				return n.fail(field, "could not get "+string(field), err)
			}
			if req != nil {
				n.enter(PhaseSubmitting, field)
				_, err := n.c.Invoke(ctx, req)
				var backendErr *protocol.Error
				switch {
				case errors.As(err, &backendErr) && backendErr.Retryable():
					n.c.logger.Warn("backend rejected %s: %s", field, backendErr.Message)
					n.c.metrics.submission(field, "rejected")
					n.retry[field] = true
					// The state is unchanged; ask for the same field again.
					continue
				case err != nil:
					n.c.metrics.submission(field, "failed")
					return n.fail(field, "could not submit "+string(field), err)
				}
				n.c.metrics.submission(field, "accepted")
				n.retry[field] = false
			}
		}

		var err error
		state, version, err = n.c.waitAuthState(ctx, version)
		if err != nil {
			return n.fail(n.field, "waiting for the backend", err)
		}
	}
}

// resolve calls the factory and fills in terminal prompts for missing
// callbacks.
func (n *negotiator) resolve() LoginDetails {
	var details LoginDetails
	if n.factory != nil {
		details = n.factory()
	}
	p := n.c.prompter
	if p == nil {
		p = NewTerminalPrompter()
	}
	switch d := details.(type) {
	case *BotLogin:
		out := BotLogin{}
		if d != nil {
			out = *d
		}
		if out.GetToken == nil {
			out.GetToken = p.BotToken
		}
		return &out
	case *UserLogin:
		return p.fillUserLogin(d)
	default:
		return p.fillUserLogin(nil)
	}
}

// collect asks for the field state requires and returns the request that
// submits it. A nil request means nothing needs to be submitted.
func (n *negotiator) collect(ctx context.Context, state protocol.AuthorizationState) (Field, protocol.Object, error) {
	switch d := n.details.(type) {
	case *BotLogin:
		if state.Type != protocol.AuthStateWaitPhoneNumber {
			return FieldNone, nil, fmt.Errorf("%w: %s", ErrUnexpectedState, state.Type)
		}
		n.enter(PhaseCollectingField, FieldBotToken)
		token, err := d.GetToken(ctx, n.retry[FieldBotToken])
		if err != nil {
			return FieldBotToken, nil, err
		}
		return FieldBotToken, protocol.NewObject(protocol.MethodCheckAuthenticationBotToken, map[string]interface{}{
			"token": token,
		}), nil

	case *UserLogin:
		return n.collectUser(ctx, d, state)

	default:
		return FieldNone, nil, fmt.Errorf("unsupported login details %T", n.details)
	}
}

func (n *negotiator) collectUser(ctx context.Context, d *UserLogin, state protocol.AuthorizationState) (Field, protocol.Object, error) {
	ask := func(field Field, get func(context.Context, bool) (string, error)) (string, error) {
		n.enter(PhaseCollectingField, field)
		return get(ctx, n.retry[field])
	}

	switch state.Type {
	case protocol.AuthStateWaitPhoneNumber:
		phone, err := ask(FieldPhoneNumber, d.GetPhoneNumber)
		if err != nil {
			return FieldPhoneNumber, nil, err
		}
		return FieldPhoneNumber, protocol.NewObject(protocol.MethodSetAuthenticationPhoneNumber, map[string]interface{}{
			"phone_number": phone,
		}), nil

	case protocol.AuthStateWaitEmailAddress:
		email, err := ask(FieldEmailAddress, d.GetEmailAddress)
		if err != nil {
			return FieldEmailAddress, nil, err
		}
		return FieldEmailAddress, protocol.NewObject(protocol.MethodSetAuthenticationEmailAddress, map[string]interface{}{
			"email_address": email,
		}), nil

	case protocol.AuthStateWaitEmailCode:
		code, err := ask(FieldEmailCode, d.GetEmailCode)
		if err != nil {
			return FieldEmailCode, nil, err
		}
		return FieldEmailCode, protocol.NewObject(protocol.MethodCheckAuthenticationEmailCode, map[string]interface{}{
			"code": protocol.NewObject(protocol.TypeEmailAddressAuthenticationCode, map[string]interface{}{"code": code}),
		}), nil

	case protocol.AuthStateWaitOtherDeviceConfirmation:
		n.enter(PhaseCollectingField, FieldDeviceConfirmation)
		d.ConfirmOnAnotherDevice(state.Link)
		return FieldDeviceConfirmation, nil, nil

	case protocol.AuthStateWaitCode:
		code, err := ask(FieldAuthCode, d.GetAuthCode)
		if err != nil {
			return FieldAuthCode, nil, err
		}
		return FieldAuthCode, protocol.NewObject(protocol.MethodCheckAuthenticationCode, map[string]interface{}{
			"code": code,
		}), nil

	case protocol.AuthStateWaitRegistration:
		n.enter(PhaseCollectingField, FieldName)
		name, err := d.GetName(ctx, n.retry[FieldName])
		if err != nil {
			return FieldName, nil, err
		}
		return FieldName, protocol.NewObject(protocol.MethodRegisterUser, map[string]interface{}{
			"first_name": name.FirstName,
			"last_name":  name.LastName,
		}), nil

	case protocol.AuthStateWaitPassword:
		n.enter(PhaseCollectingField, FieldPassword)
		password, err := d.GetPassword(ctx, state.PasswordHint, n.retry[FieldPassword])
		if err != nil {
			return FieldPassword, nil, err
		}
		return FieldPassword, protocol.NewObject(protocol.MethodCheckAuthenticationPassword, map[string]interface{}{
			"password": password,
		}), nil
	}
	return FieldNone, nil, fmt.Errorf("%w: %s", ErrUnexpectedState, state.Type)
}
