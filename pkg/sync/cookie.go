package sync

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/sequence"
)

const (
	// CookieName is the HTTP cookie carrying pending pull state.
	CookieName = "sugar_network_sync"
	// CookieUnset is the sentinel value of a cleared cookie.
	CookieUnset = "unset_" + CookieName
	// PullKey is the cookie entry holding the document pull sequence;
	// every other entry names a file tree.
	PullKey = "sn_pull"
)

// Cookie maps pull targets to pending sequences. The sn_pull entry
// covers documents, any other entry a file tree.
type Cookie map[string]*sequence.Sequence

// NewCookie returns a cookie asking for everything.
func NewCookie() Cookie {
	return Cookie{PullKey: sequence.New(sequence.Range{Start: 1, End: sequence.Open})}
}

// Clone deep-copies the cookie.
func (c Cookie) Clone() Cookie {
	out := make(Cookie, len(c))
	for name, seq := range c {
		out[name] = seq.Clone()
	}
	return out
}

// Empty reports whether no entry holds any range.
func (c Cookie) Empty() bool {
	for _, seq := range c {
		if seq.Len() > 0 {
			return false
		}
	}
	return true
}

// Sequence returns the named entry, creating it on first use.
func (c Cookie) Sequence(name string) *sequence.Sequence {
	seq, ok := c[name]
	if !ok {
		seq = sequence.New()
		c[name] = seq
	}
	return seq
}

// Encode serializes the cookie as base64 JSON; an empty cookie
// becomes the unset sentinel.
func (c Cookie) Encode() string {
	if c.Empty() {
		return CookieUnset
	}
	data, err := json.Marshal(c)
	if err != nil {
		return CookieUnset
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCookie parses a cookie value. An absent value means start
// from scratch; the unset sentinel means an explicitly cleared
// cookie.
func DecodeCookie(value string) (Cookie, error) {
	if value == "" {
		return NewCookie(), nil
	}
	if value == CookieUnset {
		return Cookie{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errs.Newf(errs.BadRequest, "malformed sync cookie: %s", err)
	}
	var cookie Cookie
	if err := json.Unmarshal(data, &cookie); err != nil {
		return nil, errs.Newf(errs.BadRequest, "malformed sync cookie: %s", err)
	}
	return cookie, nil
}

// decodeSequence converts the generic JSON form of a record's
// sequence field.
func decodeSequence(value any) (*sequence.Sequence, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errs.Newf(errs.BadRequest, "malformed sequence: %s", err)
	}
	seq := sequence.New()
	if err := json.Unmarshal(data, seq); err != nil {
		return nil, errs.Newf(errs.BadRequest, "malformed sequence: %s", err)
	}
	return seq, nil
}
