package atproto

import (
	"context"

	"github.com/pef-moderation/firehose-automod/xrpc"
)

// schema: com.atproto.server.refreshSession

type ServerRefreshSession_Output struct {
	LexiconTypeID string `json:"$type,omitempty"`
	AccessJwt     string `json:"accessJwt"`
	Did           string `json:"did"`
	Handle        string `json:"handle"`
	RefreshJwt    string `json:"refreshJwt"`
}

// ServerRefreshSession expects the refresh token in the bearer position; use
// Client.WithAuth to construct a suitable transport handle.
func ServerRefreshSession(ctx context.Context, c *xrpc.Client) (*ServerRefreshSession_Output, error) {
	var out ServerRefreshSession_Output
	if err := c.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.server.refreshSession", nil, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
