package inmemory

import (
	"sync"

	"github.com/localrivet/gotdl/protocol"
)

// Account describes the credentials a Simulator accepts.
type Account struct {
	PhoneNumber  string
	Code         string
	Password     string // empty disables the password step
	PasswordHint string
	Email        string // non-empty adds the email address and email code steps
	EmailCode    string
	BotToken     string
	Unregistered bool // the user must register before logging in
	Authorized   bool // the session is already logged in
	FirstName    string
	LastName     string
}

// SimulatorVersion is the backend version a Simulator reports.
const SimulatorVersion = "1.8.29"

// Simulator is a scripted backend that walks through the authorization flow
// of the real library: parameters, then phone number or bot token, optional
// email steps, auth code, optional registration and password, then ready.
type Simulator struct {
	account Account

	mu        sync.Mutex
	state     string
	params    protocol.Object
	verbosity int
	user      protocol.Object
}

// NewSimulator creates a Simulator for account.
func NewSimulator(account Account) *Simulator {
	return &Simulator{account: account, state: protocol.AuthStateWaitTdlibParameters, verbosity: 1}
}

// Backend returns a backend driven by the simulator.
func (sim *Simulator) Backend(options ...Option) *Backend {
	options = append([]Option{
		WithName("simulator"),
		WithExecutor(sim.execute),
		WithOpenHook(sim.open),
	}, options...)
	return New(sim.handle, options...)
}

// State returns the current authorization state type.
func (sim *Simulator) State() string {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.state
}

// Parameters returns the last setTdlibParameters request.
func (sim *Simulator) Parameters() protocol.Object {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.params
}

// Verbosity returns the log verbosity set through Execute.
func (sim *Simulator) Verbosity() int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.verbosity
}

func (sim *Simulator) open(s *Session) {
	_ = s.Push(protocol.NewObject(protocol.UpdateOption, map[string]interface{}{
		"name":  protocol.OptionVersion,
		"value": protocol.NewObject(protocol.TypeOptionValueText, map[string]interface{}{"value": SimulatorVersion}),
	}))
	sim.mu.Lock()
	sim.state = protocol.AuthStateWaitTdlibParameters
	sim.mu.Unlock()
	sim.pushState(s, protocol.AuthStateWaitTdlibParameters, nil)
}

func (sim *Simulator) pushState(s *Session, state string, fields map[string]interface{}) {
	_ = s.Push(protocol.NewObject(protocol.UpdateAuthorizationState, map[string]interface{}{
		"authorization_state": protocol.NewObject(state, fields),
	}))
}

// advance moves to state, pushes the update and acknowledges req.
func (sim *Simulator) advance(s *Session, req protocol.Object, state string) {
	sim.mu.Lock()
	sim.state = state
	sim.mu.Unlock()

	var fields map[string]interface{}
	switch state {
	case protocol.AuthStateWaitPassword:
		fields = map[string]interface{}{"password_hint": sim.account.PasswordHint}
	case protocol.AuthStateWaitEmailCode:
		fields = map[string]interface{}{"allow_apple_id": false, "allow_google_id": false}
	case protocol.AuthStateReady:
		sim.pushConnectionReady(s)
	}
	sim.pushState(s, state, fields)
	_ = s.ReplyOK(req)
}

func (sim *Simulator) pushConnectionReady(s *Session) {
	_ = s.Push(protocol.NewObject(protocol.UpdateConnectionState, map[string]interface{}{
		"state": protocol.NewObject(protocol.ConnectionStateReady, nil),
	}))
}

// afterCode returns the state following a successful auth code.
func (sim *Simulator) afterCode() string {
	if sim.account.Unregistered {
		return protocol.AuthStateWaitRegistration
	}
	return sim.afterRegistration()
}

func (sim *Simulator) afterRegistration() string {
	if sim.account.Password != "" {
		return protocol.AuthStateWaitPassword
	}
	return protocol.AuthStateReady
}

func (sim *Simulator) handle(s *Session, req protocol.Object) {
	state := sim.State()
	expect := func(want string) bool {
		if state != want {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "Unexpected "+req.Type())
			return false
		}
		return true
	}

	switch req.Type() {
	case protocol.MethodSetTdlibParameters:
		if !expect(protocol.AuthStateWaitTdlibParameters) {
			return
		}
		sim.mu.Lock()
		sim.params = req.Clone()
		sim.mu.Unlock()
		if sim.account.Authorized {
			sim.advance(s, req, protocol.AuthStateReady)
			return
		}
		sim.advance(s, req, protocol.AuthStateWaitPhoneNumber)

	case protocol.MethodCheckDatabaseEncryptionKey:
		_ = s.ReplyOK(req)

	case protocol.MethodSetAuthenticationPhoneNumber:
		if !expect(protocol.AuthStateWaitPhoneNumber) {
			return
		}
		if req.String("phone_number") != sim.account.PhoneNumber || sim.account.PhoneNumber == "" {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "PHONE_NUMBER_INVALID")
			return
		}
		if sim.account.Email != "" {
			sim.advance(s, req, protocol.AuthStateWaitEmailAddress)
			return
		}
		sim.advance(s, req, protocol.AuthStateWaitCode)

	case protocol.MethodSetAuthenticationEmailAddress:
		if !expect(protocol.AuthStateWaitEmailAddress) {
			return
		}
		if req.String("email_address") != sim.account.Email {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "EMAIL_INVALID")
			return
		}
		sim.advance(s, req, protocol.AuthStateWaitEmailCode)

	case protocol.MethodCheckAuthenticationEmailCode:
		if !expect(protocol.AuthStateWaitEmailCode) {
			return
		}
		code := req.Object("code")
		if code.Type() != protocol.TypeEmailAddressAuthenticationCode || code.String("code") != sim.account.EmailCode {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "EMAIL_CODE_INVALID")
			return
		}
		sim.advance(s, req, protocol.AuthStateWaitCode)

	case protocol.MethodCheckAuthenticationCode:
		if !expect(protocol.AuthStateWaitCode) {
			return
		}
		if req.String("code") != sim.account.Code {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "PHONE_CODE_INVALID")
			return
		}
		sim.advance(s, req, sim.afterCode())

	case protocol.MethodRegisterUser:
		if !expect(protocol.AuthStateWaitRegistration) {
			return
		}
		if req.String("first_name") == "" {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "FIRSTNAME_INVALID")
			return
		}
		sim.mu.Lock()
		sim.account.FirstName = req.String("first_name")
		sim.account.LastName = req.String("last_name")
		sim.mu.Unlock()
		sim.advance(s, req, sim.afterRegistration())

	case protocol.MethodCheckAuthenticationPassword:
		if !expect(protocol.AuthStateWaitPassword) {
			return
		}
		if req.String("password") != sim.account.Password {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "PASSWORD_HASH_INVALID")
			return
		}
		sim.advance(s, req, protocol.AuthStateReady)

	case protocol.MethodCheckAuthenticationBotToken:
		if !expect(protocol.AuthStateWaitPhoneNumber) {
			return
		}
		if req.String("token") != sim.account.BotToken || sim.account.BotToken == "" {
			_ = s.ReplyError(req, protocol.CodeInvalidInput, "ACCESS_TOKEN_INVALID")
			return
		}
		sim.mu.Lock()
		sim.user = protocol.NewObject("user", map[string]interface{}{
			"id":         float64(1000),
			"first_name": "bot",
			"type":       protocol.NewObject("userTypeBot", nil),
		})
		sim.mu.Unlock()
		sim.advance(s, req, protocol.AuthStateReady)

	case protocol.MethodClose:
		_ = s.ReplyOK(req)
		sim.mu.Lock()
		sim.state = protocol.AuthStateClosed
		sim.mu.Unlock()
		sim.pushState(s, protocol.AuthStateClosing, nil)
		sim.pushState(s, protocol.AuthStateClosed, nil)

	case protocol.MethodGetOption:
		if req.String("name") != protocol.OptionVersion {
			_ = s.Reply(req, protocol.NewObject("optionValueEmpty", nil))
			return
		}
		_ = s.Reply(req, protocol.NewObject(protocol.TypeOptionValueText, map[string]interface{}{"value": SimulatorVersion}))

	case "getMe":
		if state != protocol.AuthStateReady {
			_ = s.ReplyError(req, protocol.CodeUnauthorized, "Unauthorized")
			return
		}
		_ = s.Reply(req, sim.me())

	case "testCallString":
		_ = s.Reply(req, protocol.NewObject("testString", map[string]interface{}{"value": req["x"]}))

	case "testReturnError":
		e := req.Object("error")
		code, _ := e["code"].(float64)
		_ = s.Reply(req, (&protocol.Error{Code: int(code), Message: e.String("message")}).Object())

	default:
		_ = s.ReplyError(req, protocol.CodeInvalidInput, "Unknown method "+req.Type())
	}
}

func (sim *Simulator) me() protocol.Object {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if sim.user != nil {
		return sim.user.Clone()
	}
	return protocol.NewObject("user", map[string]interface{}{
		"id":           float64(1),
		"first_name":   sim.account.FirstName,
		"last_name":    sim.account.LastName,
		"phone_number": sim.account.PhoneNumber,
		"type":         protocol.NewObject("userTypeRegular", nil),
	})
}

func (sim *Simulator) execute(req protocol.Object) protocol.Object {
	switch req.Type() {
	case protocol.MethodSetLogVerbosityLevel:
		level, _ := req["new_verbosity_level"].(float64)
		sim.mu.Lock()
		sim.verbosity = int(level)
		sim.mu.Unlock()
		return protocol.NewObject(protocol.TypeOk, nil)
	case "getLogVerbosityLevel":
		return protocol.NewObject("logVerbosityLevel", map[string]interface{}{"verbosity_level": float64(sim.Verbosity())})
	case "testReturnError":
		e := req.Object("error")
		code, _ := e["code"].(float64)
		return (&protocol.Error{Code: int(code), Message: e.String("message")}).Object()
	default:
		return (&protocol.Error{Code: protocol.CodeInvalidInput, Message: "The method can't be executed synchronously"}).Object()
	}
}
