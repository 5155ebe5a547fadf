// Package packet implements the node → server datagram format: a flat JSON
// record followed by '|' and the lowercase hex CRC32 of the JSON bytes.
package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"maps"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
)

// Separator splits the payload from its checksum.
const Separator = '|'

// Wire keys.
const (
	keyNodeID      = "node_id"
	keySeq         = "seq"
	keyTimestamp   = "ts_us"
	keyPresent     = "present"
	keyMicRMS      = "mic_rms"
	keyNoiseRMS    = "noise_rms"
	keyCrest       = "crest"
	keyBandpower   = "bandpower"
	keyDirLocal    = "dir_local"
	keyDirConf     = "dir_conf"
	keySupplyV     = "supply_v"
	keyTempC       = "temp_c"
	keyTotalEnergy = "total_energy"
	keyHeartbeat   = "heartbeat"
)

var reservedKeys = map[string]struct{}{
	keyNodeID: {}, keySeq: {}, keyTimestamp: {}, keyPresent: {}, keyMicRMS: {},
	keyNoiseRMS: {}, keyCrest: {}, keyBandpower: {}, keyDirLocal: {}, keyDirConf: {},
	keySupplyV: {}, keyTempC: {}, keyTotalEnergy: {}, keyHeartbeat: {},
}

var (
	// ErrCorrupt is returned when the checksum does not match the payload.
	ErrCorrupt = errors.NewStd("packet checksum mismatch")

	// ErrMalformed is returned for datagrams that cannot be split or parsed.
	ErrMalformed = errors.NewStd("malformed packet")
)

// Encode serializes f into a datagram. Extra entries are merged into the
// top-level record last, so an extra with a frame field's key replaces it.
//
// The wire format is lossy in two places: timestamps carry microseconds
// (sub-microsecond precision and the monotonic reading are dropped) and
// numeric extras decode as float64.
func Encode(f *detection.Frame) ([]byte, error) {
	record := make(map[string]any, len(reservedKeys)+len(f.Extra))
	record[keyNodeID] = f.NodeID
	record[keySeq] = f.Seq
	record[keyTimestamp] = f.Timestamp.UnixMicro()
	record[keyPresent] = f.Present
	record[keyMicRMS] = nonNil(f.MicRMS)
	record[keyNoiseRMS] = nonNil(f.NoiseRMS)
	record[keyCrest] = nonNil(f.Crest)
	record[keyBandpower] = f.Bandpower
	record[keyDirLocal] = f.DirLocal
	record[keyDirConf] = f.DirConf
	record[keySupplyV] = f.SupplyV
	record[keyTempC] = f.TempC
	record[keyTotalEnergy] = f.TotalEnergy
	if f.Heartbeat {
		record[keyHeartbeat] = true
	}
	maps.Copy(record, f.Extra)

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, errors.New(err).
			Component("packet").
			Category(errors.CategoryPacket).
			Context("operation", "encode").
			Context("node_id", f.NodeID).
			Build()
	}

	out := make([]byte, 0, len(payload)+9)
	out = append(out, payload...)
	out = append(out, Separator)
	out = fmt.Appendf(out, "%08x", crc32.ChecksumIEEE(payload))
	return out, nil
}

// Decode verifies and parses a datagram. node_id, seq and ts_us are required;
// every other field falls back to its zero value, except total_energy which
// defaults to the sum of mic_rms. Unrecognized keys are kept in Frame.Extra.
func Decode(data []byte) (*detection.Frame, error) {
	i := bytes.LastIndexByte(data, Separator)
	if i < 0 {
		return nil, malformed("missing checksum separator", nil)
	}
	payload, sum := data[:i], data[i+1:]
	if want := fmt.Sprintf("%08x", crc32.ChecksumIEEE(payload)); string(sum) != want {
		return nil, errors.New(ErrCorrupt).
			Component("packet").
			Category(errors.CategoryPacket).
			Context("operation", "decode").
			Context("checksum", string(sum)).
			Context("computed", want).
			Build()
	}

	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return nil, malformed("payload is not a JSON object", err)
	}

	f := &detection.Frame{}
	nodeID, err := obj.GetInt64(keyNodeID)
	if err != nil {
		return nil, malformed("node_id", err)
	}
	f.NodeID = int(nodeID)
	if f.Seq, err = obj.GetInt64(keySeq); err != nil {
		return nil, malformed("seq", err)
	}
	tsUS, err := obj.GetInt64(keyTimestamp)
	if err != nil {
		return nil, malformed("ts_us", err)
	}
	f.Timestamp = time.UnixMicro(tsUS)

	f.Present, _ = obj.GetBoolean(keyPresent)
	f.Heartbeat, _ = obj.GetBoolean(keyHeartbeat)
	f.MicRMS, _ = obj.GetFloat64Array(keyMicRMS)
	f.NoiseRMS, _ = obj.GetFloat64Array(keyNoiseRMS)
	f.Crest, _ = obj.GetFloat64Array(keyCrest)
	if band, err := obj.GetFloat64Array(keyBandpower); err == nil {
		copy(f.Bandpower[:], band)
	}
	if dir, err := obj.GetFloat64Array(keyDirLocal); err == nil {
		copy(f.DirLocal[:], dir)
	}
	f.DirConf, _ = obj.GetFloat64(keyDirConf)
	f.SupplyV, _ = obj.GetFloat64(keySupplyV)
	f.TempC, _ = obj.GetFloat64(keyTempC)
	if f.TotalEnergy, err = obj.GetFloat64(keyTotalEnergy); err != nil {
		f.TotalEnergy = 0
		for _, v := range f.MicRMS {
			f.TotalEnergy += v
		}
	}

	for k, v := range obj.Map() {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		f.Extra[k] = plain(v.Interface())
	}
	return f, nil
}

func malformed(field string, cause error) error {
	err := fmt.Errorf("%w: %s", ErrMalformed, field)
	if cause != nil {
		err = fmt.Errorf("%w: %s: %w", ErrMalformed, field, cause)
	}
	return errors.New(err).
		Component("packet").
		Category(errors.CategoryPacket).
		Context("operation", "decode").
		Build()
}

// plain converts jason's json.Number leaves into float64.
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = plain(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = plain(e)
		}
		return x
	default:
		return v
	}
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
