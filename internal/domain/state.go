package domain

// AuthStatus is the externally observable authentication status.
type AuthStatus string

// Statuses a Machine moves through. Loading lasts until the first validity check.
const (
	StatusLoading      AuthStatus = "loading"
	StatusDisconnected AuthStatus = "disconnected"
	StatusConnecting   AuthStatus = "connecting"
	StatusConnected    AuthStatus = "connected"
	StatusInvalid      AuthStatus = "invalid"
)

// AuthState pairs the status with the current user and the last error message.
// Session is set while connecting, once the device code is known.
//
// Disconnected normally means no credential is stored. The exception is
// Offline: GitHub could not be reached to validate the stored token, so the
// token was kept and the state is disconnected until a later check succeeds.
type AuthState struct {
	Status  AuthStatus
	User    *AuthenticatedUser
	Err     string
	Session *DeviceFlowSession
	Offline bool
}
