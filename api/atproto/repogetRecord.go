package atproto

import (
	"context"
	"encoding/json"

	"github.com/pef-moderation/firehose-automod/xrpc"
)

// schema: com.atproto.repo.getRecord

type RepoGetRecord_Output struct {
	LexiconTypeID string          `json:"$type,omitempty"`
	Cid           *string         `json:"cid,omitempty"`
	Uri           string          `json:"uri"`
	Value         json.RawMessage `json:"value"`
}

func RepoGetRecord(ctx context.Context, c *xrpc.Client, cid string, collection string, repo string, rkey string) (*RepoGetRecord_Output, error) {
	var out RepoGetRecord_Output

	params := map[string]interface{}{
		"collection": collection,
		"repo":       repo,
		"rkey":       rkey,
	}
	if cid != "" {
		params["cid"] = cid
	}
	if err := c.Do(ctx, xrpc.Query, "", "com.atproto.repo.getRecord", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
