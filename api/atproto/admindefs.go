package atproto

// schema: com.atproto.admin.defs

type AdminDefs_RepoRef struct {
	LexiconTypeID string `json:"$type,omitempty"`
	Did           string `json:"did"`
}

// schema: com.atproto.repo.strongRef

type RepoStrongRef struct {
	LexiconTypeID string `json:"$type,omitempty"`
	Cid           string `json:"cid"`
	Uri           string `json:"uri"`
}
