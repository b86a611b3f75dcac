package tree

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type entryWire struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryWire{
		Name: e.Name,
		Kind: e.Kind.String(),
		Hash: hex.EncodeToString(e.Hash[:]),
		Size: e.Size,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var wire entryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var kind EntryKind
	switch wire.Kind {
	case "file":
		kind = EntryFile
	case "directory":
		kind = EntryDirectory
	default:
		return fmt.Errorf("unknown entry kind %q", wire.Kind)
	}

	raw, err := hex.DecodeString(wire.Hash)
	if err != nil {
		return fmt.Errorf("entry %q: %w", wire.Name, err)
	}
	if len(raw) != HashSize {
		return fmt.Errorf("entry %q: want %d hash bytes, got %d", wire.Name, HashSize, len(raw))
	}

	e.Name = wire.Name
	e.Kind = kind
	copy(e.Hash[:], raw)
	e.Size = wire.Size
	return nil
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.entries)
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*t = *BuildTree(entries)
	return nil
}
