package bsky

// schema: app.bsky.actor.defs

// ActorDefs_ProfileViewDetailed carries the subset of profile fields the
// moderation agent consumes.
type ActorDefs_ProfileViewDetailed struct {
	LexiconTypeID  string  `json:"$type,omitempty"`
	Did            string  `json:"did"`
	Handle         string  `json:"handle"`
	DisplayName    *string `json:"displayName,omitempty"`
	Description    *string `json:"description,omitempty"`
	FollowersCount *int64  `json:"followersCount,omitempty"`
	FollowsCount   *int64  `json:"followsCount,omitempty"`
	PostsCount     *int64  `json:"postsCount,omitempty"`
	CreatedAt      *string `json:"createdAt,omitempty"`
}
