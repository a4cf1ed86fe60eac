// Package kvstore keeps a copy of the content tree in an embedded badger
// database so the last imported content survives restarts.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

const (
	itemPrefix     = "item:"
	childrenPrefix = "children:"
	orderKey       = "meta:order"
	snapshotKey    = "meta:snapshot"
)

// ErrEmpty is returned by Load when nothing has been imported yet.
var ErrEmpty = errors.New("kvstore: no imported content")

type Options struct {
	// Dir holds the database files. Empty runs in memory.
	Dir    string
	Logger log.Logger
}

type Store struct {
	db     *badger.DB
	logger log.Logger
}

type snapshotRecord struct {
	Site string       `json:"site"`
	Meta content.Meta `json:"meta"`
}

func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	bopts := badger.DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil
	bopts.SyncWrites = true

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open badger at %q", opts.Dir)
	}
	return &Store{db: db, logger: opts.Logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func itemKey(p contentpath.Path) []byte     { return []byte(itemPrefix + p.String()) }
func childrenKey(p contentpath.Path) []byte { return []byte(childrenPrefix + p.String()) }

// Import replaces the stored content with snap. Everything is encoded before
// the database is touched and the swap happens in one transaction, so readers
// see either the previous content or the new content, never a mix. A failed
// import leaves the previous content in place.
func (s *Store) Import(ctx context.Context, snap *content.Snapshot) error {
	if snap == nil || snap.Tree == nil {
		return xerrors.New("kvstore: import of empty snapshot")
	}

	entries, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := deleteStale(txn, entries); err != nil {
			return err
		}
		for key, val := range entries {
			if err := txn.Set([]byte(key), val); err != nil {
				return xerrors.Wrapf(err, "kvstore: write %s", key)
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(err, "kvstore: import")
	}

	s.logger.Info(ctx, "content imported into kvstore",
		"items", snap.Tree.Len(),
		"hash", snap.Meta.Hash,
	)
	return nil
}

// encodeSnapshot renders every key the snapshot needs.
func encodeSnapshot(snap *content.Snapshot) (map[string][]byte, error) {
	items := snap.Tree.Items()
	entries := make(map[string][]byte, 2*len(items)+2)
	order := make([]string, 0, len(items))
	children := map[string][]string{}

	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, xerrors.Wrapf(err, "kvstore: encode %s", it.Path)
		}
		entries[string(itemKey(it.Path))] = b
		order = append(order, it.Path.String())
		if !it.Path.IsRoot() {
			parent := it.Path.Parent().String()
			children[parent] = append(children[parent], it.Path.String())
		}
	}
	for parent, kids := range children {
		b, err := json.Marshal(kids)
		if err != nil {
			return nil, xerrors.Wrap(err, "kvstore: encode children")
		}
		entries[childrenPrefix+parent] = b
	}
	for key, v := range map[string]any{
		orderKey:    order,
		snapshotKey: snapshotRecord{Site: snap.Site.String(), Meta: snap.Meta},
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, xerrors.Wrapf(err, "kvstore: encode %s", key)
		}
		entries[key] = b
	}
	return entries, nil
}

// deleteStale removes item and children keys that the next import does not rewrite.
func deleteStale(txn *badger.Txn, keep map[string][]byte) error {
	var stale [][]byte
	for _, prefix := range []string{itemPrefix, childrenPrefix} {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = []byte(prefix)
		it := txn.NewIterator(iopts)
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if _, ok := keep[string(k)]; !ok {
				stale = append(stale, k)
			}
		}
		it.Close()
	}
	for _, k := range stale {
		if err := txn.Delete(k); err != nil {
			return xerrors.Wrapf(err, "kvstore: delete %s", k)
		}
	}
	return nil
}

func (s *Store) Exists(_ context.Context, p contentpath.Path) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(itemKey(p))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// GetByPath returns content.ErrNotFound when p was not imported.
func (s *Store) GetByPath(_ context.Context, p contentpath.Path) (content.Item, error) {
	var it content.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, itemKey(p), &it)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return content.Item{}, content.ErrNotFound
	}
	return it, err
}

// Children returns the children of parent in the parent's child order.
func (s *Store) Children(_ context.Context, parent contentpath.Path) ([]content.Item, error) {
	out := []content.Item{}
	childOrder := ""
	err := s.db.View(func(txn *badger.Txn) error {
		var kids []string
		if err := getJSON(txn, childrenKey(parent), &kids); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		for _, k := range kids {
			var it content.Item
			if err := getJSON(txn, []byte(itemPrefix+k), &it); err != nil {
				return err
			}
			out = append(out, it)
		}
		var p content.Item
		switch err := getJSON(txn, itemKey(parent), &p); {
		case err == nil:
			childOrder = p.ChildOrder
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	content.SortChildren(out, childOrder)
	return out, nil
}

// Load rebuilds the last imported snapshot. Returns ErrEmpty before the first Import.
func (s *Store) Load(_ context.Context) (*content.Snapshot, error) {
	var (
		rec   snapshotRecord
		items []content.Item
	)
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, []byte(snapshotKey), &rec); err != nil {
			return err
		}
		var order []string
		if err := getJSON(txn, []byte(orderKey), &order); err != nil {
			return err
		}
		items = make([]content.Item, 0, len(order))
		for _, k := range order {
			var it content.Item
			if err := getJSON(txn, []byte(itemPrefix+k), &it); err != nil {
				return xerrors.Wrapf(err, "kvstore: read %s", k)
			}
			items = append(items, it)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}

	tree, err := content.NewTree(items)
	if err != nil {
		return nil, xerrors.Wrap(err, "kvstore: rebuild tree")
	}
	site, err := contentpath.Parse(rec.Site)
	if err != nil {
		return nil, xerrors.Wrap(err, "kvstore: site")
	}
	return &content.Snapshot{Tree: tree, Site: site, Meta: rec.Meta}, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
