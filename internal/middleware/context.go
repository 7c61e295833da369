package middleware

import "context"

func contextWithCapture(ctx context.Context, c *userCapture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

// recordUser stores userID for the request logger, if one is installed.
func recordUser(ctx context.Context, userID string) {
	if c, ok := ctx.Value(captureKey{}).(*userCapture); ok {
		c.userID = userID
	}
}
