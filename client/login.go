package client

import "context"

// LoginDetails supplies credentials to Login. It is implemented by
// *UserLogin and *BotLogin only.
type LoginDetails interface {
	loginDetails()
}

// Name is the display name submitted when registering a new account.
type Name struct {
	FirstName string
	LastName  string
}

// UserLogin logs in as a user. Each callback is asked for one field when the
// backend requires it. retry is true when the previous value for the same
// field was rejected. Returning an error aborts the login with that error.
// Callbacks left nil prompt on the terminal.
type UserLogin struct {
	GetPhoneNumber         func(ctx context.Context, retry bool) (string, error)
	GetEmailAddress        func(ctx context.Context, retry bool) (string, error)
	GetEmailCode           func(ctx context.Context, retry bool) (string, error)
	ConfirmOnAnotherDevice func(link string)
	GetAuthCode            func(ctx context.Context, retry bool) (string, error)
	GetPassword            func(ctx context.Context, hint string, retry bool) (string, error)
	GetName                func(ctx context.Context, retry bool) (Name, error)
}

// BotLogin logs in as a bot. GetToken left nil prompts on the terminal.
type BotLogin struct {
	GetToken func(ctx context.Context, retry bool) (string, error)
}

func (*UserLogin) loginDetails() {}
func (*BotLogin) loginDetails()  {}

// BotToken returns BotLogin details for a fixed token.
func BotToken(token string) *BotLogin {
	return &BotLogin{GetToken: func(context.Context, bool) (string, error) {
		return token, nil
	}}
}

// Field names a credential collected during login.
type Field string

// Fields collected during login.
const (
	FieldNone               Field = ""
	FieldPhoneNumber        Field = "phone number"
	FieldBotToken           Field = "bot token"
	FieldEmailAddress       Field = "email address"
	FieldEmailCode          Field = "email code"
	FieldDeviceConfirmation Field = "device confirmation"
	FieldAuthCode           Field = "auth code"
	FieldPassword           Field = "password"
	FieldName               Field = "name"
)

// LoginPhase is a state of the login negotiation.
type LoginPhase int

// Login negotiation phases. Error is absorbing; Done is terminal.
const (
	PhaseIdle LoginPhase = iota
	PhaseAwaitingType
	PhaseCollectingField
	PhaseSubmitting
	PhaseDone
	PhaseError
)

func (p LoginPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingType:
		return "awaiting type"
	case PhaseCollectingField:
		return "collecting field"
	case PhaseSubmitting:
		return "submitting"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}
