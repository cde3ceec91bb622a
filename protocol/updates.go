package protocol

// Update type names the client inspects.
const (
	UpdateAuthorizationState = "updateAuthorizationState"
	UpdateOption             = "updateOption"
	UpdateConnectionState    = "updateConnectionState"

	ConnectionStateReady = "connectionStateReady"

	OptionVersion       = "version"
	TypeOptionValueText = "optionValueString"
)

// IsUpdate reports whether o is an unsolicited update.
func IsUpdate(o Object) bool {
	t := o.Type()
	return len(t) > len("update") && t[:len("update")] == "update"
}

// AuthorizationStateOf extracts the state carried by an updateAuthorizationState.
func AuthorizationStateOf(update Object) (AuthorizationState, bool) {
	if update.Type() != UpdateAuthorizationState {
		return AuthorizationState{}, false
	}
	state := update.Object("authorization_state")
	if state == nil {
		return AuthorizationState{}, false
	}
	s, err := ParseAuthorizationState(state)
	if err != nil {
		return AuthorizationState{}, false
	}
	return s, true
}

// VersionOf extracts the backend version from updateOption{name:"version"}.
func VersionOf(update Object) (string, bool) {
	if update.Type() != UpdateOption || update.String("name") != OptionVersion {
		return "", false
	}
	value := update.Object("value")
	if value == nil || value.Type() != TypeOptionValueText {
		return "", false
	}
	v := value.String("value")
	return v, v != ""
}

// ConnectionStateOf extracts the connection state type from updateConnectionState.
func ConnectionStateOf(update Object) (string, bool) {
	if update.Type() != UpdateConnectionState {
		return "", false
	}
	state := update.Object("state")
	if state == nil {
		return "", false
	}
	return state.Type(), true
}
