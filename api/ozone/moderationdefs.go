package ozone

// schema: tools.ozone.moderation.defs

// Event payloads for tools.ozone.moderation.emitEvent. Ozone requires the
// event's list fields to be present even when empty, so these deliberately
// omit `omitempty` on slice members; constructors initialize them to empty
// slices rather than nil.

type ModerationDefs_ModEventLabel struct {
	LexiconTypeID   string   `json:"$type,omitempty"`
	Comment         *string  `json:"comment,omitempty"`
	CreateLabelVals []string `json:"createLabelVals"`
	NegateLabelVals []string `json:"negateLabelVals"`
}

type ModerationDefs_ModEventAcknowledge struct {
	LexiconTypeID              string  `json:"$type,omitempty"`
	Comment                    *string `json:"comment,omitempty"`
	AcknowledgeAccountSubjects bool    `json:"acknowledgeAccountSubjects"`
}

type ModerationDefs_ModEventTag struct {
	LexiconTypeID string   `json:"$type,omitempty"`
	Comment       *string  `json:"comment,omitempty"`
	Add           []string `json:"add"`
	Remove        []string `json:"remove"`
}

type ModerationDefs_ModEventComment struct {
	LexiconTypeID string `json:"$type,omitempty"`
	Comment       string `json:"comment"`
	Sticky        *bool  `json:"sticky,omitempty"`
}

type ModerationDefs_ModEventReport struct {
	LexiconTypeID string  `json:"$type,omitempty"`
	Comment       *string `json:"comment,omitempty"`
	ReportType    *string `json:"reportType,omitempty"`
}
