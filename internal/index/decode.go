package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeShard parses a wire shard. Two top-level shapes are accepted: a JSON
// object keyed by unit name, and the pair list rustdoc feeds to
// Object.fromEntries ([["crate", [...]], ...]). Records may be objects
// ({"text", "synthetic", "types"}) or compact arrays ([text, synthetic, types]).
//
// The returned order lists unit names as they appear in the payload.
func DecodeShard(data []byte) (Shard, []string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, invalid(nil, "empty payload")
	}

	switch data[0] {
	case '{':
		return decodeObjectShard(data)
	case '[':
		return decodePairShard(data)
	default:
		return nil, nil, invalid(nil, "payload is not a mapping of unit name to records")
	}
}

func decodeObjectShard(data []byte) (Shard, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, nil, invalid(err, "reading object")
	}

	shard := make(Shard)
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, invalid(err, "reading unit name")
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, invalid(nil, "unit name is not a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, invalid(err, "%s: reading records", name)
		}
		if err := addUnit(shard, &order, name, raw); err != nil {
			return nil, nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, invalid(err, "closing object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, invalid(err, "trailing data after shard")
	}
	return shard, order, nil
}

func decodePairShard(data []byte) (Shard, []string, error) {
	var pairs []json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, nil, invalid(err, "reading pair list")
	}

	shard := make(Shard, len(pairs))
	var order []string
	for i, p := range pairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(p, &pair); err != nil || len(pair) != 2 {
			return nil, nil, invalid(err, "entry %d is not a [name, records] pair", i)
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			return nil, nil, invalid(err, "entry %d: unit name is not a string", i)
		}
		if err := addUnit(shard, &order, name, pair[1]); err != nil {
			return nil, nil, err
		}
	}
	return shard, order, nil
}

func addUnit(shard Shard, order *[]string, name string, raw json.RawMessage) error {
	if _, dup := shard[name]; dup {
		return invalid(nil, "%s: unit appears twice", name)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return invalid(err, "%s", name)
	}
	shard[name] = records
	*order = append(*order, name)
	return nil
}

func decodeRecords(raw json.RawMessage) ([]Record, error) {
	if raw = bytes.TrimSpace(raw); len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("records are not a list")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("records are not a list: %w", err)
	}
	records := make([]Record, 0, len(items))
	for i, item := range items {
		r, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Record{}, fmt.Errorf("empty record")
	}

	switch raw[0] {
	case '{':
		var obj struct {
			Text      *string         `json:"text"`
			Synthetic json.RawMessage `json:"synthetic"`
			Types     []string        `json:"types"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Record{}, err
		}
		if obj.Text == nil {
			return Record{}, fmt.Errorf("missing text")
		}
		synthetic, err := decodeFlag(obj.Synthetic)
		if err != nil {
			return Record{}, err
		}
		return Record{Content: *obj.Text, Synthetic: synthetic, Types: obj.Types}, nil

	case '[':
		var fields []json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Record{}, err
		}
		if len(fields) == 0 || len(fields) > 3 {
			return Record{}, fmt.Errorf("compact record has %d fields", len(fields))
		}
		var r Record
		if err := json.Unmarshal(fields[0], &r.Content); err != nil {
			return Record{}, fmt.Errorf("text: %w", err)
		}
		if len(fields) > 1 {
			synthetic, err := decodeFlag(fields[1])
			if err != nil {
				return Record{}, err
			}
			r.Synthetic = synthetic
		}
		if len(fields) > 2 {
			if err := json.Unmarshal(fields[2], &r.Types); err != nil {
				return Record{}, fmt.Errorf("types: %w", err)
			}
		}
		return r, nil

	default:
		return Record{}, fmt.Errorf("record is neither an object nor an array")
	}
}

// decodeFlag accepts true/false, 0/1 and null.
func decodeFlag(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return false, fmt.Errorf("synthetic flag %s is not a bool or number", raw)
	}
	return n != 0, nil
}
