package protocol

// Authorization state type names reported through updateAuthorizationState.
const (
	AuthStateWaitTdlibParameters         = "authorizationStateWaitTdlibParameters"
	AuthStateWaitEncryptionKey           = "authorizationStateWaitEncryptionKey"
	AuthStateWaitPhoneNumber             = "authorizationStateWaitPhoneNumber"
	AuthStateWaitEmailAddress            = "authorizationStateWaitEmailAddress"
	AuthStateWaitEmailCode               = "authorizationStateWaitEmailCode"
	AuthStateWaitOtherDeviceConfirmation = "authorizationStateWaitOtherDeviceConfirmation"
	AuthStateWaitCode                    = "authorizationStateWaitCode"
	AuthStateWaitRegistration            = "authorizationStateWaitRegistration"
	AuthStateWaitPassword                = "authorizationStateWaitPassword"
	AuthStateReady                       = "authorizationStateReady"
	AuthStateLoggingOut                  = "authorizationStateLoggingOut"
	AuthStateClosing                     = "authorizationStateClosing"
	AuthStateClosed                      = "authorizationStateClosed"
)

// Request type names the client sends on its own.
const (
	MethodSetTdlibParameters            = "setTdlibParameters"
	MethodCheckDatabaseEncryptionKey    = "checkDatabaseEncryptionKey"
	MethodSetAuthenticationPhoneNumber  = "setAuthenticationPhoneNumber"
	MethodSetAuthenticationEmailAddress = "setAuthenticationEmailAddress"
	MethodCheckAuthenticationEmailCode  = "checkAuthenticationEmailCode"
	MethodCheckAuthenticationCode       = "checkAuthenticationCode"
	MethodCheckAuthenticationPassword   = "checkAuthenticationPassword"
	MethodCheckAuthenticationBotToken   = "checkAuthenticationBotToken"
	MethodRegisterUser                  = "registerUser"
	MethodSetLogVerbosityLevel          = "setLogVerbosityLevel"
	MethodClose                         = "close"
	MethodGetOption                     = "getOption"

	TypeEmailAddressAuthenticationCode = "emailAddressAuthenticationCode"
	TypeOk                             = "ok"
)

// AuthorizationState is the decoded form of an authorizationState* object.
type AuthorizationState struct {
	Type                string `json:"_"`
	PasswordHint        string `json:"password_hint"`
	Link                string `json:"link"`
	EmailAddressPattern string `json:"email_address_pattern"`
	// Kept raw; the client only branches on the state type.
	CodeInfo       map[string]interface{} `json:"code_info"`
	TermsOfService map[string]interface{} `json:"terms_of_service"`
}

// ParseAuthorizationState decodes an authorizationState* object.
func ParseAuthorizationState(o Object) (AuthorizationState, error) {
	var s AuthorizationState
	if err := Decode(o, &s); err != nil {
		return AuthorizationState{}, err
	}
	return s, nil
}

// NeedsInput reports whether the backend waits for user or bot credentials.
func (s AuthorizationState) NeedsInput() bool {
	switch s.Type {
	case AuthStateWaitPhoneNumber, AuthStateWaitEmailAddress, AuthStateWaitEmailCode,
		AuthStateWaitOtherDeviceConfirmation, AuthStateWaitCode,
		AuthStateWaitRegistration, AuthStateWaitPassword:
		return true
	}
	return false
}

// NeedsParameters reports whether the backend waits for session parameters.
func (s AuthorizationState) NeedsParameters() bool {
	return s.Type == AuthStateWaitTdlibParameters || s.Type == AuthStateWaitEncryptionKey
}

// IsReady reports whether the session is authorized.
func (s AuthorizationState) IsReady() bool {
	return s.Type == AuthStateReady
}

// IsTerminal reports whether the session is shutting down or gone.
func (s AuthorizationState) IsTerminal() bool {
	switch s.Type {
	case AuthStateLoggingOut, AuthStateClosing, AuthStateClosed:
		return true
	}
	return false
}
