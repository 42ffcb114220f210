package bsky

import (
	"context"

	"github.com/pef-moderation/firehose-automod/xrpc"
)

// schema: app.bsky.actor.getProfiles

// GetProfilesMax is the server-side cap on actors per getProfiles call.
const GetProfilesMax = 25

type ActorGetProfiles_Output struct {
	LexiconTypeID string                           `json:"$type,omitempty"`
	Profiles      []*ActorDefs_ProfileViewDetailed `json:"profiles"`
}

func ActorGetProfiles(ctx context.Context, c *xrpc.Client, actors []string) (*ActorGetProfiles_Output, error) {
	var out ActorGetProfiles_Output

	params := map[string]interface{}{
		"actors": actors,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.actor.getProfiles", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
