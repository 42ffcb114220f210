package ozone

import (
	"context"
	"encoding/json"
	"fmt"

	comatproto "github.com/pef-moderation/firehose-automod/api/atproto"
	"github.com/pef-moderation/firehose-automod/lex/util"
	"github.com/pef-moderation/firehose-automod/xrpc"
)

// schema: tools.ozone.moderation.emitEvent

type ModerationEmitEvent_Input struct {
	LexiconTypeID   string                             `json:"$type,omitempty"`
	CreatedBy       string                             `json:"createdBy"`
	Event           *ModerationEmitEvent_Input_Event   `json:"event"`
	Subject         *ModerationEmitEvent_Input_Subject `json:"subject"`
	SubjectBlobCids []string                           `json:"subjectBlobCids,omitempty"`
}

type ModerationEmitEvent_Input_Event struct {
	ModerationDefs_ModEventLabel       *ModerationDefs_ModEventLabel
	ModerationDefs_ModEventAcknowledge *ModerationDefs_ModEventAcknowledge
	ModerationDefs_ModEventTag         *ModerationDefs_ModEventTag
	ModerationDefs_ModEventComment     *ModerationDefs_ModEventComment
	ModerationDefs_ModEventReport      *ModerationDefs_ModEventReport
}

func (t *ModerationEmitEvent_Input_Event) MarshalJSON() ([]byte, error) {
	if t.ModerationDefs_ModEventLabel != nil {
		t.ModerationDefs_ModEventLabel.LexiconTypeID = "tools.ozone.moderation.defs#modEventLabel"
		return json.Marshal(t.ModerationDefs_ModEventLabel)
	}
	if t.ModerationDefs_ModEventAcknowledge != nil {
		t.ModerationDefs_ModEventAcknowledge.LexiconTypeID = "tools.ozone.moderation.defs#modEventAcknowledge"
		return json.Marshal(t.ModerationDefs_ModEventAcknowledge)
	}
	if t.ModerationDefs_ModEventTag != nil {
		t.ModerationDefs_ModEventTag.LexiconTypeID = "tools.ozone.moderation.defs#modEventTag"
		return json.Marshal(t.ModerationDefs_ModEventTag)
	}
	if t.ModerationDefs_ModEventComment != nil {
		t.ModerationDefs_ModEventComment.LexiconTypeID = "tools.ozone.moderation.defs#modEventComment"
		return json.Marshal(t.ModerationDefs_ModEventComment)
	}
	if t.ModerationDefs_ModEventReport != nil {
		t.ModerationDefs_ModEventReport.LexiconTypeID = "tools.ozone.moderation.defs#modEventReport"
		return json.Marshal(t.ModerationDefs_ModEventReport)
	}
	return nil, fmt.Errorf("cannot marshal empty enum")
}

func (t *ModerationEmitEvent_Input_Event) UnmarshalJSON(b []byte) error {
	typ, err := util.TypeExtract(b)
	if err != nil {
		return err
	}

	switch typ {
	case "tools.ozone.moderation.defs#modEventLabel":
		t.ModerationDefs_ModEventLabel = new(ModerationDefs_ModEventLabel)
		return json.Unmarshal(b, t.ModerationDefs_ModEventLabel)
	case "tools.ozone.moderation.defs#modEventAcknowledge":
		t.ModerationDefs_ModEventAcknowledge = new(ModerationDefs_ModEventAcknowledge)
		return json.Unmarshal(b, t.ModerationDefs_ModEventAcknowledge)
	case "tools.ozone.moderation.defs#modEventTag":
		t.ModerationDefs_ModEventTag = new(ModerationDefs_ModEventTag)
		return json.Unmarshal(b, t.ModerationDefs_ModEventTag)
	case "tools.ozone.moderation.defs#modEventComment":
		t.ModerationDefs_ModEventComment = new(ModerationDefs_ModEventComment)
		return json.Unmarshal(b, t.ModerationDefs_ModEventComment)
	case "tools.ozone.moderation.defs#modEventReport":
		t.ModerationDefs_ModEventReport = new(ModerationDefs_ModEventReport)
		return json.Unmarshal(b, t.ModerationDefs_ModEventReport)

	default:
		return nil
	}
}

type ModerationEmitEvent_Input_Subject struct {
	AdminDefs_RepoRef *comatproto.AdminDefs_RepoRef
	RepoStrongRef     *comatproto.RepoStrongRef
}

func (t *ModerationEmitEvent_Input_Subject) MarshalJSON() ([]byte, error) {
	if t.AdminDefs_RepoRef != nil {
		t.AdminDefs_RepoRef.LexiconTypeID = "com.atproto.admin.defs#repoRef"
		return json.Marshal(t.AdminDefs_RepoRef)
	}
	if t.RepoStrongRef != nil {
		t.RepoStrongRef.LexiconTypeID = "com.atproto.repo.strongRef"
		return json.Marshal(t.RepoStrongRef)
	}
	return nil, fmt.Errorf("cannot marshal empty enum")
}

func (t *ModerationEmitEvent_Input_Subject) UnmarshalJSON(b []byte) error {
	typ, err := util.TypeExtract(b)
	if err != nil {
		return err
	}

	switch typ {
	case "com.atproto.admin.defs#repoRef":
		t.AdminDefs_RepoRef = new(comatproto.AdminDefs_RepoRef)
		return json.Unmarshal(b, t.AdminDefs_RepoRef)
	case "com.atproto.repo.strongRef":
		t.RepoStrongRef = new(comatproto.RepoStrongRef)
		return json.Unmarshal(b, t.RepoStrongRef)

	default:
		return nil
	}
}

type ModerationEmitEvent_Output struct {
	LexiconTypeID string `json:"$type,omitempty"`
	CreatedAt     string `json:"createdAt"`
	CreatedBy     string `json:"createdBy"`
	Id            int64  `json:"id"`
}

func ModerationEmitEvent(ctx context.Context, c *xrpc.Client, input *ModerationEmitEvent_Input) (*ModerationEmitEvent_Output, error) {
	var out ModerationEmitEvent_Output
	if err := c.Do(ctx, xrpc.Procedure, "application/json", "tools.ozone.moderation.emitEvent", nil, input, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
