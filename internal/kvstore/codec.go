// Package kvstore implements core.Backend on key-value stores (Redis and
// DynamoDB). Documents are kept as msgpack blobs next to a generation
// counter; predicates are evaluated client-side over a full scan.
package kvstore

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

func encodeDoc(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	b, err := msgpack.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

func decodeDoc(b []byte) (map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	doc, err := dec.DecodeMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	core.NormalizeNumbers(doc)
	return doc, nil
}

const pkField = "_primary_key"

// encodeMapping renders a mapping as field name to "type" or "type,indexed",
// with the primary key under pkField.
func encodeMapping(m core.Mapping) map[string]string {
	out := make(map[string]string, len(m.Fields)+1)
	out[pkField] = m.PrimaryKey
	for _, f := range m.Fields {
		v := string(f.Type)
		if f.Indexed {
			v += ",indexed"
		}
		out[f.Name] = v
	}
	return out
}

func decodeMapping(table string, raw map[string]string) core.Mapping {
	m := core.Mapping{Table: table, PrimaryKey: raw[pkField]}
	for name, v := range raw {
		if name == pkField {
			continue
		}
		typ, flags, _ := strings.Cut(v, ",")
		st := core.StorageType(typ)
		m.Fields = append(m.Fields, core.FieldMapping{
			Name:    name,
			Type:    st,
			Indexed: flags == "indexed",
			Dynamic: st == core.StorageObject,
		})
	}
	slices.SortFunc(m.Fields, func(a, b core.FieldMapping) int {
		return strings.Compare(a.Name, b.Name)
	})
	return m
}
