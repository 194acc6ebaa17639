package sync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/packet"
	"github.com/sugar-network/node/pkg/sequence"
)

const (
	// defaultPullCacheSize bounds the number of cached pull packets.
	defaultPullCacheSize = 256
	// pullDelay is the retry hint, in seconds, returned while a pull
	// packet is still being generated.
	pullDelay = 30
)

// MasterConfig tunes the master sync endpoint.
type MasterConfig struct {
	// GUID identifies this master; incoming packets must name it as
	// dst.
	GUID string
	// CacheDir holds generated pull and ack packets.
	CacheDir string
	// PacketLimit bounds generated packets; 0 applies the codec
	// default.
	PacketLimit int64
	// PullCacheSize bounds the pull LRU; 0 applies the default.
	PullCacheSize int
	// Stats receives stats_push records; nil drops them.
	Stats func(r *packet.Record) error
}

// PushResult is the outcome of one push ingest: the path of the
// acknowledgement packet and the client's updated cookie.
type PushResult struct {
	Ack    string
	Cookie Cookie
}

// PullResult is the outcome of one pull request. Packet is empty
// while generation is still running, in which case Delay hints when
// to retry.
type PullResult struct {
	Packet string
	Length int64
	Cookie Cookie
	Delay  int
}

type pullState int

const (
	pullPending pullState = iota
	pullReady
	pullFailed
)

// pull is one cached pull packet; file on disk exists iff the entry
// is in the LRU.
type pull struct {
	mu     gosync.Mutex
	state  pullState
	path   string
	length int64
	cookie Cookie
	err    error
}

// Master ingests push packets and serves resumable pull packets.
type Master struct {
	volume  *document.Volume
	guid    string
	cache   string
	limit   int64
	stats   func(r *packet.Record) error
	seeders map[string]*Seeder
	pulls   *lru.Cache[string, *pull]
	mu      gosync.Mutex
	logger  zerolog.Logger
}

// NewMaster opens the master endpoint over the volume. Seeders serve
// file-tree pulls for the cookie entries matching their names.
func NewMaster(volume *document.Volume, cfg MasterConfig, seeders ...*Seeder) (*Master, error) {
	if cfg.GUID == "" {
		return nil, errs.New(errs.Internal, "master GUID is not configured")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, err
	}
	size := cfg.PullCacheSize
	if size <= 0 {
		size = defaultPullCacheSize
	}
	m := &Master{
		volume:  volume,
		guid:    cfg.GUID,
		cache:   cfg.CacheDir,
		limit:   cfg.PacketLimit,
		stats:   cfg.Stats,
		seeders: make(map[string]*Seeder),
		logger:  log.WithComponent("sync.master"),
	}
	for _, s := range seeders {
		m.seeders[s.Name()] = s
	}
	pulls, err := lru.NewWithEvict[string, *pull](size, func(_ string, p *pull) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.path != "" {
			os.Remove(p.path)
		}
		metrics.PullCacheSize.Dec()
	})
	if err != nil {
		return nil, err
	}
	m.pulls = pulls
	return m, nil
}

// GUID returns the master's node GUID.
func (m *Master) GUID() string {
	return m.guid
}

// Push ingests a push packet. Merged documents are stamped with fresh
// local seqnos; requested pull ranges are folded into the client's
// cookie; the acknowledgement packet reports what was accepted.
func (m *Master) Push(stream io.Reader, cookie Cookie) (*PushResult, error) {
	in, err := packet.NewInPacket(stream)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	if dst := in.Header().String("dst"); dst != m.guid {
		return nil, errs.Newf(errs.BadRequest, "misaddressed packet for %q", dst)
	}
	metrics.SyncPacketsIn.WithLabelValues("push").Inc()

	if cookie == nil {
		cookie = Cookie{}
	}
	pushed := sequence.New()
	merged := sequence.New()
	statsAck := sequence.New()
	sawPush := false
	sawCommit := false

	err = in.Records(nil, func(r *packet.Record) error {
		switch r.String("cmd") {
		case "sn_push":
			sawPush = true
			seqno, ok, err := Merge(m.volume, r, true)
			if err != nil {
				return err
			}
			if ok {
				merged.Include(seqno, seqno)
			}
		case "sn_commit":
			sawCommit = true
			seq, err := decodeSequence(r.Meta["sequence"])
			if err != nil {
				return err
			}
			pushed.IncludeSeq(seq)
		case "sn_pull":
			seq, err := decodeSequence(r.Meta["sequence"])
			if err != nil {
				return err
			}
			cookie.Sequence(PullKey).IncludeSeq(seq)
		case "files_pull":
			seq, err := decodeSequence(r.Meta["sequence"])
			if err != nil {
				return err
			}
			cookie.Sequence(r.String("directory")).IncludeSeq(seq)
		case "stats_push":
			if m.stats != nil {
				if err := m.stats(r); err != nil {
					return err
				}
			}
			if seq, err := decodeSequence(r.Meta["sequence"]); err == nil {
				statsAck.IncludeSeq(seq)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sawPush && !sawCommit {
		return nil, errs.New(errs.BadRequest, "push packet misses the commit record")
	}

	ackPath := filepath.Join(m.cache, "ack-"+uuid.NewString()+packet.Suffix)
	ack, err := packet.NewOutPacket(ackPath, 0, packet.Header{
		"src": m.guid,
		"dst": in.Header().String("src"),
	})
	if err != nil {
		return nil, err
	}
	if err := ack.Push(map[string]any{
		"cmd":      "sn_ack",
		"sequence": pushed,
		"merged":   merged,
	}); err != nil {
		ack.Clear()
		return nil, err
	}
	if statsAck.Len() > 0 {
		if err := ack.Push(map[string]any{"cmd": "stats_ack", "sequence": statsAck}); err != nil {
			ack.Clear()
			return nil, err
		}
	}
	if err := ack.Close(); err != nil {
		return nil, err
	}
	metrics.SyncPacketsOut.WithLabelValues("ack").Inc()
	m.logger.Debug().Str("src", in.Header().String("src")).
		Str("pushed", pushed.String()).Str("merged", merged.String()).
		Msg("push packet ingested")
	return &PushResult{Ack: ackPath, Cookie: cookie}, nil
}

// Pull serves a pull packet for the cookie, generating and caching it
// keyed by the cookie's SHA-1. A cached packet larger than
// acceptLength is evicted and regenerated within the bound.
func (m *Master) Pull(cookie Cookie, acceptLength int64) (*PullResult, error) {
	if cookie == nil {
		cookie = NewCookie()
	}
	if cookie.Empty() {
		return &PullResult{Cookie: cookie}, nil
	}
	key := cookieKey(cookie)

	m.mu.Lock()
	p, ok := m.pulls.Get(key)
	if ok {
		p.mu.Lock()
		switch p.state {
		case pullPending:
			p.mu.Unlock()
			m.mu.Unlock()
			return &PullResult{Cookie: cookie, Delay: pullDelay}, nil
		case pullFailed:
			err := p.err
			p.mu.Unlock()
			m.pulls.Remove(key)
			m.mu.Unlock()
			return nil, err
		case pullReady:
			if acceptLength > 0 && p.length > acceptLength {
				p.mu.Unlock()
				m.pulls.Remove(key)
				break
			}
			result := &PullResult{Packet: p.path, Length: p.length, Cookie: p.cookie}
			p.mu.Unlock()
			m.mu.Unlock()
			return result, nil
		}
	}

	p = &pull{state: pullPending}
	m.pulls.Add(key, p)
	metrics.PullCacheSize.Inc()
	m.mu.Unlock()

	limit := m.limit
	if acceptLength > 0 && (limit == 0 || acceptLength < limit) {
		limit = acceptLength
	}
	go m.generate(key, p, cookie.Clone(), limit)
	return &PullResult{Cookie: cookie, Delay: pullDelay}, nil
}

func (m *Master) generate(key string, p *pull, cookie Cookie, limit int64) {
	path := filepath.Join(m.cache, "pull-"+key[:16]+packet.Suffix)
	residual, err := m.generatePacket(path, cookie, limit)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = pullFailed
		p.err = err
		m.logger.Error().Err(err).Msg("pull packet generation failed")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		p.state = pullFailed
		p.err = err
		return
	}
	p.state = pullReady
	p.path = path
	p.length = info.Size()
	p.cookie = residual
	m.logger.Debug().Str("packet", path).Int64("length", p.length).Msg("pull packet ready")
}

func (m *Master) generatePacket(path string, cookie Cookie, limit int64) (Cookie, error) {
	out, err := packet.NewOutPacket(path, limit, packet.Header{
		"src":      m.guid,
		"filename": filepath.Base(path),
	})
	if err != nil {
		return nil, err
	}
	residual := cookie.Clone()

	if accept, ok := cookie[PullKey]; ok && accept.Len() > 0 {
		committed, _, err := Diff(context.Background(), m.volume, accept, out)
		if err != nil {
			out.Clear()
			return nil, err
		}
		if err := residual.Sequence(PullKey).ExcludeSeq(committed); err != nil {
			out.Clear()
			return nil, err
		}
	}
	for name, accept := range cookie {
		if name == PullKey || accept.Len() == 0 {
			continue
		}
		seeder, ok := m.seeders[name]
		if !ok {
			continue
		}
		committed, _, err := seeder.Pull(accept, out)
		if err != nil {
			out.Clear()
			return nil, err
		}
		if err := residual.Sequence(name).ExcludeSeq(committed); err != nil {
			out.Clear()
			return nil, err
		}
	}

	out.Header()["cookie"] = residual.Encode()
	if err := out.Close(); err != nil {
		return nil, err
	}
	return residual, nil
}

// cookieKey normalizes the cookie to JSON and hashes it. Go's JSON
// encoder sorts map keys, so equal cookies share a key.
func cookieKey(cookie Cookie) string {
	data, err := json.Marshal(cookie)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", cookie))
	}
	digest := sha1.Sum(data)
	return hex.EncodeToString(digest[:])
}
