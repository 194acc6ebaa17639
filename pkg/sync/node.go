package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/packet"
	"github.com/sugar-network/node/pkg/sequence"
)

// SatelliteConfig tunes the offline sync engine of a non-master node.
type SatelliteConfig struct {
	// GUID identifies this node in packet headers.
	GUID string
	// Master is the GUID outgoing packets are addressed to.
	Master string
	// PacketLimit bounds outgoing packets; 0 applies the codec
	// default.
	PacketLimit int64
	// Trees maps file-tree names to the local directories receiving
	// their content.
	Trees map[string]string
}

// satelliteState is the resumable session snapshot persisted between
// mounts.
type satelliteState struct {
	Session      string             `json:"session"`
	DiffSequence *sequence.Sequence `json:"diff_sequence"`
}

// Satellite synchronizes the volume with its master through packet
// files in an exchange directory. Durable push and pull sequences
// plus a resumable session snapshot make any interruption safe.
type Satellite struct {
	volume    *document.Volume
	guid      string
	master    string
	limit     int64
	trees     map[string]string
	pushSeq   *sequence.Persistent
	pullSeq   *sequence.Persistent
	treeSeqs  map[string]*sequence.Persistent
	statePath string
	logger    zerolog.Logger
}

// NewSatellite opens the sync engine over the volume, loading its
// persistent sequences from <root>/sync.
func NewSatellite(volume *document.Volume, cfg SatelliteConfig) (*Satellite, error) {
	if cfg.GUID == "" || cfg.Master == "" {
		return nil, errs.New(errs.Internal, "satellite GUID and master are not configured")
	}
	root := filepath.Join(volume.Root(), "sync")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	everything := sequence.Range{Start: 1, End: sequence.Open}
	pushSeq, err := sequence.OpenPersistent(filepath.Join(root, "push"), everything)
	if err != nil {
		return nil, err
	}
	pullSeq, err := sequence.OpenPersistent(filepath.Join(root, "pull"), everything)
	if err != nil {
		return nil, err
	}
	s := &Satellite{
		volume:    volume,
		guid:      cfg.GUID,
		master:    cfg.Master,
		limit:     cfg.PacketLimit,
		trees:     cfg.Trees,
		pushSeq:   pushSeq,
		pullSeq:   pullSeq,
		treeSeqs:  make(map[string]*sequence.Persistent),
		statePath: filepath.Join(root, "state"),
		logger:    log.WithComponent("sync.node"),
	}
	for name := range cfg.Trees {
		seq, err := sequence.OpenPersistent(filepath.Join(root, "files-"+name), everything)
		if err != nil {
			return nil, err
		}
		s.treeSeqs[name] = seq
	}
	return s, nil
}

// PushSequence returns the seqnos still owed to the master.
func (s *Satellite) PushSequence() *sequence.Sequence {
	return s.pushSeq.Sequence
}

// PullSequence returns the seqnos still expected from the master.
func (s *Satellite) PullSequence() *sequence.Sequence {
	return s.pullSeq.Sequence
}

// Sync processes one mounted exchange directory: imports every
// foreign packet, prunes stale own packets, then emits one outgoing
// packet continuing or opening a session. DiskFull mid-diff persists
// the remaining range so the next mount resumes exactly.
func (s *Satellite) Sync(ctx context.Context, dir string) error {
	state := s.loadState()
	session := state.Session
	newSession := session == ""
	if newSession {
		session = uuid.NewString()
	}
	s.notify("sync_start", map[string]any{"path": dir, "session": session})

	if err := s.importDir(ctx, dir, session); err != nil {
		s.notify("sync_error", map[string]any{"error": err.Error()})
		return err
	}

	toPush := s.pushSeq.Clone()
	if !newSession && state.DiffSequence != nil {
		toPush = state.DiffSequence
	}
	complete, err := s.emit(ctx, dir, session, newSession, toPush)
	if err != nil {
		s.notify("sync_error", map[string]any{"error": err.Error()})
		return err
	}
	if !complete {
		if err := s.saveState(satelliteState{Session: session, DiffSequence: toPush}); err != nil {
			return err
		}
		s.notify("sync_continue", map[string]any{"session": session})
		return nil
	}
	if err := s.clearState(); err != nil {
		return err
	}
	s.notify("sync_complete", map[string]any{"session": session})
	return nil
}

func (s *Satellite) importDir(ctx context.Context, dir, session string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+packet.Suffix))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		in, err := packet.OpenInPacket(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("packet", path).Msg("skipping unreadable packet")
			continue
		}
		header := in.Header()
		if header.String("src") == s.guid {
			if header.String("session") != session {
				// Own leftover from a finished session
				os.Remove(path)
			}
			in.Close()
			continue
		}
		if dst := header.String("dst"); dst != "" && dst != s.guid {
			in.Close()
			continue
		}
		err = s.importPacket(in)
		in.Close()
		if err != nil {
			return err
		}
		s.notify("sync_progress", map[string]any{"packet": filepath.Base(path)})
	}
	return nil
}

func (s *Satellite) importPacket(in *packet.InPacket) error {
	metrics.SyncPacketsIn.WithLabelValues("import").Inc()
	err := in.Records(nil, func(r *packet.Record) error {
		switch r.String("cmd") {
		case "sn_push":
			_, _, err := Merge(s.volume, r, false)
			return err
		case "sn_commit":
			seq, err := decodeSequence(r.Meta["sequence"])
			if err != nil {
				return err
			}
			return s.pullSeq.ExcludeSeq(seq)
		case "sn_ack":
			seq, err := decodeSequence(r.Meta["sequence"])
			if err != nil {
				return err
			}
			if err := s.pushSeq.ExcludeSeq(seq); err != nil {
				return err
			}
			merged, err := decodeSequence(r.Meta["merged"])
			if err != nil {
				return err
			}
			// Own pushes come back stamped with master seqnos; no need
			// to pull them
			return s.pullSeq.ExcludeSeq(merged)
		case "files_push":
			return s.writeTreeFile(r)
		case "files_delete":
			root, ok := s.trees[r.String("directory")]
			if !ok {
				return nil
			}
			os.Remove(filepath.Join(root, filepath.FromSlash(r.String("path"))))
			return nil
		case "files_commit":
			seq, ok := s.treeSeqs[r.String("directory")]
			if !ok {
				return nil
			}
			committed, err := decodeSequence(r.Meta["sequence"])
			if err != nil {
				return err
			}
			return seq.ExcludeSeq(committed)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.pushSeq.Commit(); err != nil {
		return err
	}
	if err := s.pullSeq.Commit(); err != nil {
		return err
	}
	for _, seq := range s.treeSeqs {
		if err := seq.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Satellite) writeTreeFile(r *packet.Record) error {
	root, ok := s.trees[r.String("directory")]
	if !ok || r.Blob == nil {
		return nil
	}
	path := filepath.Join(root, filepath.FromSlash(r.String("path")))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r.Blob); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if mtime, ok := r.Meta["mtime"].(float64); ok && mtime > 0 {
		when := time.Unix(int64(mtime), 0)
		os.Chtimes(path, when, when)
	}
	return nil
}

// emit writes one outgoing packet. A fresh session announces the pull
// intents first, then the diff streams until DiskFull or exhaustion.
func (s *Satellite) emit(ctx context.Context, dir, session string, newSession bool,
	toPush *sequence.Sequence) (bool, error) {

	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s", s.guid, uuid.NewString()[:8], packet.Suffix))
	out, err := packet.NewOutPacket(path, s.limit, packet.Header{
		"src":      s.guid,
		"dst":      s.master,
		"session":  session,
		"filename": filepath.Base(path),
	})
	if err != nil {
		return false, err
	}

	if newSession {
		if err := out.Push(map[string]any{
			"cmd":      "sn_pull",
			"sequence": s.pullSeq.Sequence,
		}); err != nil {
			out.Clear()
			return false, err
		}
		for name, seq := range s.treeSeqs {
			if err := out.Push(map[string]any{
				"cmd":       "files_pull",
				"directory": name,
				"sequence":  seq.Sequence,
			}); err != nil {
				out.Clear()
				return false, err
			}
		}
	}

	committed, complete, err := Diff(ctx, s.volume, toPush, out)
	if err != nil {
		out.Clear()
		return false, err
	}
	if err := out.Close(); err != nil {
		return false, err
	}
	metrics.SyncPacketsOut.WithLabelValues("node").Inc()
	if !complete {
		if err := toPush.ExcludeSeq(committed); err != nil {
			return false, err
		}
	}
	s.logger.Debug().Str("packet", path).Bool("complete", complete).Msg("sync packet emitted")
	return complete, nil
}

func (s *Satellite) loadState() satelliteState {
	var state satelliteState
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return satelliteState{}
	}
	return state
}

func (s *Satellite) saveState(state satelliteState) error {
	data, err := json.Marshal(&state)
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.statePath, bytes.NewReader(data))
}

func (s *Satellite) clearState() error {
	err := os.Remove(s.statePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Satellite) notify(event string, extra map[string]any) {
	s.volume.Notify(document.Event{Event: event, Extra: extra})
}
