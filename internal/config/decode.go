package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fieldDoc is the wire shape of a single field definition.
type fieldDoc struct {
	Begin  int    `json:"begin" yaml:"begin"`
	End    int    `json:"end" yaml:"end"`
	Type   string `json:"type" yaml:"type"`
	Format string `json:"format" yaml:"format"`
}

func (d fieldDoc) field(name string) Field {
	return Field{
		Name:   name,
		Begin:  d.Begin,
		End:    d.End,
		Type:   FieldType(strings.ToLower(strings.TrimSpace(d.Type))),
		Format: d.Format,
	}
}

// LoadCatalog reads a catalog from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &c)
	default:
		err = json.Unmarshal(b, &c)
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return c, nil
}

// UnmarshalJSON decodes the catalog keeping the document order of streams,
// record codes and fields.
func (c *Catalog) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))

	var streams []Stream
	err := eachJSONKey(dec, func(name string) error {
		s, err := decodeJSONStream(dec, name)
		if err != nil {
			return fmt.Errorf("stream %q: %w", name, err)
		}
		streams = append(streams, s)
		return nil
	})
	if err != nil {
		return err
	}
	c.Streams = streams
	return nil
}

func decodeJSONStream(dec *json.Decoder, name string) (Stream, error) {
	s := Stream{Name: name}
	err := eachJSONKey(dec, func(key string) error {
		switch key {
		case "filename":
			return dec.Decode(&s.Filename)
		case "encoding":
			var enc *string
			if err := dec.Decode(&enc); err != nil {
				return err
			}
			if enc != nil {
				s.Encoding = *enc
			}
			return nil
		case "clean":
			return dec.Decode(&s.Clean)
		case "record_code":
			var span []int
			if err := dec.Decode(&span); err != nil {
				return fmt.Errorf("record_code: %w", err)
			}
			return s.RecordCode.set(span)
		case "records":
			return eachJSONKey(dec, func(code string) error {
				rec := Record{Code: code}
				err := eachJSONKey(dec, func(field string) error {
					var d fieldDoc
					if err := dec.Decode(&d); err != nil {
						return fmt.Errorf("records.%s.%s: %w", code, field, err)
					}
					rec.Fields = append(rec.Fields, d.field(field))
					return nil
				})
				if err != nil {
					return err
				}
				s.Records = append(s.Records, rec)
				return nil
			})
		default:
			// Unknown keys belong to other tools sharing the document.
			var skip json.RawMessage
			return dec.Decode(&skip)
		}
	})
	return s, err
}

// eachJSONKey consumes one JSON object from dec and calls fn for each key.
// fn must consume exactly the value that follows the key.
func eachJSONKey(dec *json.Decoder, fn func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// UnmarshalYAML decodes the catalog from a YAML mapping, keeping document
// order.
func (c *Catalog) UnmarshalYAML(node *yaml.Node) error {
	var streams []Stream
	err := eachYAMLKey(node, func(name string, v *yaml.Node) error {
		s, err := decodeYAMLStream(name, v)
		if err != nil {
			return fmt.Errorf("stream %q: %w", name, err)
		}
		streams = append(streams, s)
		return nil
	})
	if err != nil {
		return err
	}
	c.Streams = streams
	return nil
}

func decodeYAMLStream(name string, node *yaml.Node) (Stream, error) {
	s := Stream{Name: name}
	err := eachYAMLKey(node, func(key string, v *yaml.Node) error {
		switch key {
		case "filename":
			return v.Decode(&s.Filename)
		case "encoding":
			return v.Decode(&s.Encoding)
		case "clean":
			return v.Decode(&s.Clean)
		case "record_code":
			var span []int
			if err := v.Decode(&span); err != nil {
				return fmt.Errorf("record_code: %w", err)
			}
			return s.RecordCode.set(span)
		case "records":
			return eachYAMLKey(v, func(code string, fields *yaml.Node) error {
				rec := Record{Code: code}
				err := eachYAMLKey(fields, func(field string, fv *yaml.Node) error {
					var d fieldDoc
					if err := fv.Decode(&d); err != nil {
						return fmt.Errorf("records.%s.%s: %w", code, field, err)
					}
					rec.Fields = append(rec.Fields, d.field(field))
					return nil
				})
				if err != nil {
					return err
				}
				s.Records = append(s.Records, rec)
				return nil
			})
		}
		return nil
	})
	return s, err
}

// eachYAMLKey walks a mapping node in order. A document node is unwrapped
// first.
func eachYAMLKey(node *yaml.Node, fn func(key string, v *yaml.Node) error) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Span) set(v []int) error {
	if len(v) != 2 {
		return fmt.Errorf("record_code: want [begin, end], got %d values", len(v))
	}
	s.Begin, s.End = v[0], v[1]
	return nil
}
