package sync

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/packet"
	"github.com/sugar-network/node/pkg/sequence"
)

// Diff streams every accepted document change of the volume into out:
// BLOB properties as blob records, the rest as one sn_push records
// block per document, and finally one sn_commit carrying the consumed
// range. On DiskFull the commit covers exactly the documents that
// landed, so the caller can resume from the difference. The returned
// sequence is the committed range; complete reports whether the whole
// accept range was drained.
func Diff(ctx context.Context, v *document.Volume, accept *sequence.Sequence,
	out *packet.OutPacket) (*sequence.Sequence, bool, error) {

	pushed := sequence.New()
	complete := true

	for _, dir := range v.Directories() {
		err := dir.Diff(ctx, accept, func(guid string, seqno int64, diff map[string]document.PropDiff) error {
			if err := pushDocument(out, dir.Name(), guid, diff); err != nil {
				return err
			}
			pushed.Include(seqno, seqno)
			return nil
		})
		if errs.IsKind(err, errs.DiskFull) {
			complete = false
			break
		}
		if err != nil {
			return nil, false, err
		}
	}

	committed := pushed
	if complete {
		// Every accepted seqno up to the current counter was offered, so
		// gaps without documents are consumed too
		committed = accept.Clone()
		committed.Floor(v.Seqno().Value())
	}
	commit := map[string]any{"cmd": "sn_commit", "sequence": committed}
	if err := out.PushTail(commit); err != nil {
		return nil, false, err
	}
	metrics.SyncPacketsOut.WithLabelValues("diff").Inc()
	return committed, complete, nil
}

// pushDocument emits the BLOB companions and the records block of one
// document diff. Either everything lands or DiskFull propagates with
// nothing partially written beyond complete records.
func pushDocument(out *packet.OutPacket, doc, guid string, diff map[string]document.PropDiff) error {
	for prop, pd := range diff {
		if pd.Path == "" {
			continue
		}
		blob, err := os.Open(pd.Path)
		if err != nil {
			return err
		}
		info, err := blob.Stat()
		if err != nil {
			blob.Close()
			return err
		}
		err = out.PushBlob(map[string]any{
			"cmd":       "sn_push",
			"document":  doc,
			"guid":      guid,
			"prop":      prop,
			"mtime":     pd.Mtime,
			"mime_type": pd.MimeType,
			"digest":    pd.Digest,
		}, blob, info.Size())
		blob.Close()
		if err != nil {
			return err
		}
	}

	row := map[string]any{"guid": guid, "diff": diff}
	return out.PushRecords(map[string]any{"cmd": "sn_push", "document": doc}, []map[string]any{row})
}

// Merge applies one incoming sn_push record to the volume. Blob
// records are spooled to disk first so the record store can ingest
// them through its regular path. It returns the locally stamped seqno
// and whether the diff changed anything.
func Merge(v *document.Volume, r *packet.Record, incrementSeqno bool) (int64, bool, error) {
	doc := r.String("document")
	guid := r.String("guid")
	dir, err := v.Directory(doc)
	if err != nil {
		return 0, false, err
	}
	if guid == "" {
		return 0, false, errs.New(errs.BadRequest, "push record carries no guid")
	}

	if r.Blob != nil {
		return mergeBlob(dir, guid, r, incrementSeqno)
	}

	raw, err := json.Marshal(r.Meta["diff"])
	if err != nil {
		return 0, false, errs.Newf(errs.BadRequest, "malformed diff for %q: %s", guid, err)
	}
	var diff map[string]document.PropDiff
	if err := json.Unmarshal(raw, &diff); err != nil {
		return 0, false, errs.Newf(errs.BadRequest, "malformed diff for %q: %s", guid, err)
	}
	return dir.Merge(guid, diff, incrementSeqno)
}

func mergeBlob(dir *document.Directory, guid string, r *packet.Record, incrementSeqno bool) (int64, bool, error) {
	prop := r.String("prop")
	if prop == "" {
		return 0, false, errs.New(errs.BadRequest, "blob record carries no prop")
	}
	spool, err := os.CreateTemp("", "sync-blob-*")
	if err != nil {
		return 0, false, err
	}
	defer os.Remove(spool.Name())
	if _, err := io.Copy(spool, r.Blob); err != nil {
		spool.Close()
		return 0, false, errs.Newf(errs.BadRequest, "truncated blob for %q: %s", guid, err)
	}
	if err := spool.Close(); err != nil {
		return 0, false, err
	}

	mtime, _ := r.Meta["mtime"].(float64)
	diff := map[string]document.PropDiff{
		prop: {
			Mtime:    int64(mtime),
			MimeType: r.String("mime_type"),
			Digest:   r.String("digest"),
			Path:     spool.Name(),
		},
	}
	return dir.Merge(guid, diff, incrementSeqno)
}
