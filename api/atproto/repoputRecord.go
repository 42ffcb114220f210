package atproto

import (
	"context"
	"encoding/json"

	"github.com/pef-moderation/firehose-automod/xrpc"
)

// schema: com.atproto.repo.putRecord

type RepoPutRecord_Input struct {
	LexiconTypeID string          `json:"$type,omitempty"`
	Collection    string          `json:"collection"`
	Record        json.RawMessage `json:"record"`
	Repo          string          `json:"repo"`
	Rkey          string          `json:"rkey"`
	SwapCid       *string         `json:"swapCid,omitempty"`
	SwapRecord    *string         `json:"swapRecord,omitempty"`
	Validate      *bool           `json:"validate,omitempty"`
}

type RepoPutRecord_Output struct {
	LexiconTypeID string `json:"$type,omitempty"`
	Cid           string `json:"cid"`
	Uri           string `json:"uri"`
}

func RepoPutRecord(ctx context.Context, c *xrpc.Client, input *RepoPutRecord_Input) (*RepoPutRecord_Output, error) {
	var out RepoPutRecord_Output
	if err := c.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.putRecord", nil, input, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
