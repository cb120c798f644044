package auth

import "context"

type contextKey struct{}

// AuthContext is what a validated session proves about a request.
type AuthContext struct {
	UserID    int64
	SessionID string
	// DeviceID is the device the request claims to come from: the header or
	// body value, else the device bound to the session.
	DeviceID string
	// SessionDeviceID is the device the session was minted for, if any.
	SessionDeviceID string
	// DeviceAuthorized is set once the device has been checked against the registry.
	DeviceAuthorized bool
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func DeviceID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.DeviceID
}
