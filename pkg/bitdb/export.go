package bitdb

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion is written into every exported database.
const FormatVersion = "1.0"

type fileItem struct {
	Key string `json:"key"`
	TileItem
}

type fileFormat struct {
	Version     string     `json:"version"`
	Device      string     `json:"device"`
	ItemCount   int        `json:"item_count"`
	Items       []fileItem `json:"items"`
	GeneratedBy string     `json:"generated_by"`
}

// ExportJSON exports the database to JSON, items ordered by key.
func (db *Database) ExportJSON() ([]byte, error) {
	entries := db.Entries()
	out := fileFormat{
		Version:     FormatVersion,
		Device:      db.Device,
		ItemCount:   len(entries),
		Items:       make([]fileItem, len(entries)),
		GeneratedBy: "otb bit-difference inference",
	}
	for i, e := range entries {
		out.Items[i] = fileItem{Key: e.Key.String(), TileItem: e.Item}
	}
	return json.MarshalIndent(out, "", "  ")
}

// LoadJSON parses a database produced by ExportJSON.
func LoadJSON(data []byte) (*Database, error) {
	var in fileFormat
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("bitdb: parse: %w", err)
	}
	if in.Version != FormatVersion {
		return nil, fmt.Errorf("bitdb: unsupported version %q", in.Version)
	}
	db := NewDatabase(in.Device)
	for _, fi := range in.Items {
		key, err := ParseKey(fi.Key)
		if err != nil {
			return nil, err
		}
		if err := db.Insert(key, fi.TileItem); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// SaveFile writes the database as JSON. A path ending in ".zst" is
// zstd-compressed.
func (db *Database) SaveFile(path string) error {
	data, err := db.ExportJSON()
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("bitdb: zstd: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		if err := enc.Close(); err != nil {
			return fmt.Errorf("bitdb: zstd: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bitdb: write %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a database written by SaveFile.
func LoadFile(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bitdb: read %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("bitdb: zstd: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("bitdb: decompress %s: %w", path, err)
		}
	}
	return LoadJSON(data)
}

// ExportSexp renders the database as an s-expression listing, one tile
// block per tile kind. Meant for review and diffing, not for loading.
func (db *Database) ExportSexp() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(bitdb (version %s)\n", FormatVersion)
	fmt.Fprintf(&sb, "  (device %q)\n", db.Device)
	for _, kind := range db.TileKinds() {
		fmt.Fprintf(&sb, "  (tile %s\n", kind)
		for _, e := range db.Tile(kind) {
			it := e.Item
			fmt.Fprintf(&sb, "    (%s %q", it.Kind, e.Key.String())
			switch it.Kind {
			case KindBitVec:
				fmt.Fprintf(&sb, " (encoding %s) (bits", it.Encoding)
				for _, b := range it.Bits {
					fmt.Fprintf(&sb, " %s", b)
				}
				sb.WriteString("))\n")
			default:
				sb.WriteString(" (bits")
				for _, p := range it.Positions {
					fmt.Fprintf(&sb, " %s", p)
				}
				sb.WriteString(")\n")
				for _, label := range it.Labels() {
					fmt.Fprintf(&sb, "      (value %q %s)\n", label, it.Values[label])
				}
				if it.None != nil {
					fmt.Fprintf(&sb, "      (none %s)\n", it.None)
				}
				sb.WriteString("    )\n")
			}
		}
		sb.WriteString("  )\n")
	}
	sb.WriteString(")\n")
	return sb.String()
}
