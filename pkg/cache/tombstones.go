package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/order"
)

// signaturesPath is the map inside a tombstone document holding one key per signature.
const signaturesPath = "signatures"

// TombstoneDoc loads the tombstone document of a channel. A missing key yields an empty document.
func (s *Store) TombstoneDoc(ctx context.Context, source order.Source) (*automerge.Doc, error) {
	raw, ok, err := s.Get(ctx, TombstonesKey(source))
	if err != nil {
		return nil, err
	}
	if !ok {
		return automerge.New(), nil
	}
	return loadDoc(raw)
}

func loadDoc(raw []byte) (*automerge.Doc, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tombstone doc")
	}
	return doc, nil
}

// Signatures lists the signatures recorded in a tombstone document.
func Signatures(doc *automerge.Doc) (map[string]bool, error) {
	out := make(map[string]bool)
	v, err := doc.Path(signaturesPath).Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read signatures")
	}
	if v.Kind() == automerge.KindVoid {
		return out, nil
	}
	keys, err := doc.Path(signaturesPath).Map().Keys()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list signatures")
	}
	for _, k := range keys {
		out[k] = true
	}
	return out, nil
}

// DecodeTombstones reads the signature set straight from a stored value, as delivered in a Change.
func DecodeTombstones(raw []byte) (map[string]bool, error) {
	doc, err := loadDoc(raw)
	if err != nil {
		return nil, err
	}
	return Signatures(doc)
}

func (t *Tab) Tombstones(ctx context.Context, source order.Source) (map[string]bool, error) {
	doc, err := t.store.TombstoneDoc(ctx, source)
	if err != nil {
		return nil, err
	}
	return Signatures(doc)
}

// AddTombstones records signatures in the channel's tombstone document. The set only grows: each
// tab appends its own changes to whatever the file already holds.
func (t *Tab) AddTombstones(ctx context.Context, source order.Source, signatures ...string) error {
	if len(signatures) == 0 {
		return nil
	}
	return t.store.update(ctx, t.origin, TombstonesKey(source), func(current []byte, ok bool) ([]byte, error) {
		doc := automerge.New()
		if ok {
			var err error
			if doc, err = loadDoc(current); err != nil {
				return nil, err
			}
		}
		if t.origin != "" {
			if err := doc.SetActorID(hex.EncodeToString([]byte(t.origin))); err != nil {
				return nil, errors.Wrap(err, "failed to set actor")
			}
		}
		v, err := doc.Path(signaturesPath).Get()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read signatures")
		}
		if v.Kind() == automerge.KindVoid {
			if err := doc.Path(signaturesPath).Set(map[string]interface{}{}); err != nil {
				return nil, errors.Wrap(err, "failed to create signatures")
			}
		}
		for _, sig := range signatures {
			if err := doc.Path(signaturesPath, sig).Set(true); err != nil {
				return nil, errors.Wrapf(err, "failed to add %s", sig)
			}
		}
		if _, err := doc.Commit(fmt.Sprintf("tombstone %d", len(signatures)), automerge.CommitOptions{AllowEmpty: true}); err != nil {
			return nil, errors.Wrap(err, "failed to commit")
		}
		return doc.Save(), nil
	})
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k, ok := range set {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
