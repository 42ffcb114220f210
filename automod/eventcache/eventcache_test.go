package eventcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postEvent(did string) Event {
	return Event{DID: did, Time: time.Now(), Post: &PostEvent{Path: "app.bsky.feed.post/1"}}
}

func TestRecordAndGet(t *testing.T) {
	assert := assert.New(t)
	c := NewEventCache(10, nil, nil)

	c.Record(Event{DID: "did:plc:a", Time: time.Now(), Post: &PostEvent{EmbedCount: 2}})
	c.Record(Event{DID: "did:plc:a", Time: time.Now(), Like: &LikeEvent{SubjectURI: "at://x"}})
	c.Record(Event{DID: "did:plc:a", Time: time.Now(), Identity: &IdentityEvent{Handle: "a.example.com"}})

	rec := c.GetAccount("did:plc:a")
	require.NotNil(t, rec)
	assert.Equal(int64(1), rec.Posts)
	assert.Equal(int64(1), rec.Likes)
	assert.Equal(int64(2), rec.Embeds)
	assert.Equal("a.example.com", rec.Handle)
	assert.Nil(c.GetAccount("did:plc:unknown"))
}

func TestCapacityBound(t *testing.T) {
	assert := assert.New(t)
	c := NewEventCache(5, nil, nil)

	for i := 0; i < 50; i++ {
		c.Record(postEvent(fmt.Sprintf("did:plc:acct%d", i)))
	}
	assert.Equal(5, c.Len())
}

func TestLFUEvictsLeastFrequent(t *testing.T) {
	assert := assert.New(t)
	c := NewEventCache(3, nil, nil)

	// hot seen three times, warm twice, cold once
	c.Record(postEvent("did:plc:hot"))
	c.Record(postEvent("did:plc:hot"))
	c.Record(postEvent("did:plc:hot"))
	c.Record(postEvent("did:plc:warm"))
	c.Record(postEvent("did:plc:warm"))
	c.Record(postEvent("did:plc:cold"))

	c.Record(postEvent("did:plc:new"))

	assert.Nil(c.GetAccount("did:plc:cold"))
	assert.NotNil(c.GetAccount("did:plc:hot"))
	assert.NotNil(c.GetAccount("did:plc:warm"))
	assert.NotNil(c.GetAccount("did:plc:new"))
}

func TestLFUTieBrokenByInsertionOrder(t *testing.T) {
	assert := assert.New(t)
	c := NewEventCache(3, nil, nil)

	c.Record(postEvent("did:plc:first"))
	c.Record(postEvent("did:plc:second"))
	c.Record(postEvent("did:plc:third"))

	// all at frequency one, the earliest insert goes
	c.Record(postEvent("did:plc:fourth"))
	assert.Nil(c.GetAccount("did:plc:first"))
	assert.NotNil(c.GetAccount("did:plc:second"))

	c.Record(postEvent("did:plc:fifth"))
	assert.Nil(c.GetAccount("did:plc:second"))
}

func TestGetAccountDoesNotPromote(t *testing.T) {
	assert := assert.New(t)
	c := NewEventCache(2, nil, nil)

	c.Record(postEvent("did:plc:a"))
	c.Record(postEvent("did:plc:b"))

	// reads must not shield an account from eviction
	for i := 0; i < 10; i++ {
		c.GetAccount("did:plc:a")
	}
	c.Record(postEvent("did:plc:c"))
	assert.Nil(c.GetAccount("did:plc:a"))
}

func TestOnEraseHook(t *testing.T) {
	assert := assert.New(t)

	var erased []string
	c := NewEventCache(2, func(did string, account *AccountRecord) {
		erased = append(erased, did)
		assert.NotNil(account)
	}, nil)

	c.Record(postEvent("did:plc:a"))
	c.Record(postEvent("did:plc:b"))
	c.Record(postEvent("did:plc:c"))
	c.Record(postEvent("did:plc:d"))

	assert.Equal([]string{"did:plc:a", "did:plc:b"}, erased)
}

func TestEvictedHandleStaysUsable(t *testing.T) {
	assert := assert.New(t)
	c := NewEventCache(1, nil, nil)

	c.Record(postEvent("did:plc:a"))
	rec := c.GetAccount("did:plc:a")
	c.Record(postEvent("did:plc:b"))

	assert.Nil(c.GetAccount("did:plc:a"))
	assert.Equal(int64(1), rec.Posts)
}
