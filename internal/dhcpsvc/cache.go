package dhcpsvc

import (
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/bluele/gcache"
)

// replyKey identifies a request for the reply cache.  Retransmissions of a
// request share the key.
type replyKey struct {
	// client is the client identity.
	client string

	// xid is the transaction identifier.
	xid uint32

	// family is the family of the request.
	family dhcpopt.Family

	// typ is the type of the request.
	typ uint8
}

// replyCache keeps the replies to recent requests so that retransmissions are
// answered with the same reply without repeating the binding operations.  A
// nil *replyCache is a disabled cache.
type replyCache struct {
	cache gcache.Cache
}

// newReplyCache returns a new reply cache.  If size is not positive, it
// returns nil.
func newReplyCache(size int, ttl time.Duration) (c *replyCache) {
	if size <= 0 {
		return nil
	}

	return &replyCache{
		cache: gcache.New(size).LRU().Expiration(ttl).Build(),
	}
}

// get returns the cached reply for k, if any.
func (c *replyCache) get(k replyKey) (resp dhcpmsg.Message, ok bool) {
	if c == nil {
		return nil, false
	}

	v, err := c.cache.Get(k)
	if err != nil {
		// The only error is [gcache.KeyNotFoundError].
		return nil, false
	}

	resp, ok = v.(dhcpmsg.Message)

	return resp, ok
}

// set caches resp for k.
func (c *replyCache) set(k replyKey, resp dhcpmsg.Message) (err error) {
	if c == nil {
		return nil
	}

	return c.cache.Set(k, resp)
}
