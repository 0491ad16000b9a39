// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package parse normalizes decoded gNMI and Cisco EMS telemetry
// messages into the flat telemetry.ParsedResponse record sinks
// consume.
package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cisco-ie/nx-telemetry-proto/telemetry_bis"
	gnmipb "github.com/openconfig/gnmi/proto/gnmi"

	"github.com/mdtpipe/mdtpipe/errs"
	mpath "github.com/mdtpipe/mdtpipe/path"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// Parser normalizes decoded telemetry messages, attributing every
// record to the hostname/version/IP resolved by the owning
// connector.
type Parser struct {
	Hostname string
	Version  string
	IP       string
}

// ParseGNMI converts a gNMI SubscribeResponse's updates and deletes
// into ParsedResponse records. Sync responses carry no updates and
// yield no records. The last element of each update's path is the
// leaf; the remaining elements join with the notification's prefix
// into yang_path, and updates that share a yang_path are grouped into
// a single record whose Content merges every leaf.
func (p *Parser) ParseGNMI(resp *gnmipb.SubscribeResponse) ([]*telemetry.ParsedResponse, error) {
	notif := resp.GetUpdate()
	if notif == nil {
		return nil, nil
	}
	prefix := mpath.Render(notif.GetPrefix())
	prefixKeys := keysFromPath(notif.GetPrefix())
	ts := notif.GetTimestamp()

	var out []*telemetry.ParsedResponse
	byPath := map[string]*telemetry.ParsedResponse{}
	for _, upd := range notif.GetUpdate() {
		elems := upd.GetPath().GetElem()
		if len(elems) == 0 {
			continue
		}
		leaf := elems[len(elems)-1].GetName()
		subPath := mpath.Render(&gnmipb.Path{Elem: elems[:len(elems)-1]})
		yangPath := mpath.Join(prefix, subPath)
		value, err := gnmiValue(upd.GetVal())
		if err != nil {
			return nil, errs.New(errs.KindParse, "parse", "gnmi value", err)
		}
		updKeys := keysFromPath(&gnmipb.Path{Elem: elems[:len(elems)-1]})

		rec, ok := byPath[yangPath]
		if !ok {
			rec = &telemetry.ParsedResponse{
				YangPath:    yangPath,
				Encoding:    "gnmi",
				Hostname:    p.Hostname,
				Version:     p.Version,
				IP:          p.IP,
				TimestampNs: ts,
				Keys:        mergeKeys(prefixKeys, updKeys),
				Content:     map[string]interface{}{},
			}
			byPath[yangPath] = rec
			out = append(out, rec)
		}
		rec.Content[leaf] = value
	}
	for _, del := range notif.GetDelete() {
		subPath := mpath.Render(del)
		yangPath := mpath.Join(prefix, subPath)
		out = append(out, &telemetry.ParsedResponse{
			YangPath:    yangPath,
			Encoding:    "gnmi",
			Hostname:    p.Hostname,
			Version:     p.Version,
			IP:          p.IP,
			TimestampNs: ts,
			Keys:        mergeKeys(prefixKeys, keysFromPath(del)),
			Content:     map[string]interface{}{"delete": true},
			Delete:      true,
		})
	}
	return out, nil
}

func keysFromPath(p *gnmipb.Path) map[string]string {
	if p == nil {
		return nil
	}
	keys := map[string]string{}
	for _, elm := range p.GetElem() {
		for k, v := range elm.GetKey() {
			keys[k] = v
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return keys
}

func mergeKeys(a, b map[string]string) map[string]string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	merged := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}

// maxSafeInt is the largest integer value representable without
// precision loss; values returned by the gNMI uint/int fields beyond
// this are rendered as decimal strings rather than as a Go int64,
// mirroring the source device's own overflow handling.
const maxSafeInt = math.MaxInt64

func gnmiValue(v *gnmipb.TypedValue) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.Value.(type) {
	case *gnmipb.TypedValue_StringVal:
		return val.StringVal, nil
	case *gnmipb.TypedValue_IntVal:
		return intOrString(val.IntVal), nil
	case *gnmipb.TypedValue_UintVal:
		return uintOrString(val.UintVal), nil
	case *gnmipb.TypedValue_BoolVal:
		return val.BoolVal, nil
	case *gnmipb.TypedValue_BytesVal:
		return string(val.BytesVal), nil
	case *gnmipb.TypedValue_FloatVal:
		return val.FloatVal, nil
	case *gnmipb.TypedValue_DoubleVal:
		return val.DoubleVal, nil
	case *gnmipb.TypedValue_DecimalVal:
		return val.DecimalVal.GetDigits(), nil
	case *gnmipb.TypedValue_LeaflistVal:
		list := make([]interface{}, 0, len(val.LeaflistVal.GetElement()))
		for _, e := range val.LeaflistVal.GetElement() {
			ev, err := gnmiValue(e)
			if err != nil {
				return nil, err
			}
			list = append(list, ev)
		}
		return list, nil
	case *gnmipb.TypedValue_JsonVal:
		var out interface{}
		if err := json.Unmarshal(val.JsonVal, &out); err != nil {
			return nil, err
		}
		return out, nil
	case *gnmipb.TypedValue_JsonIetfVal:
		var out interface{}
		if err := json.Unmarshal(val.JsonIetfVal, &out); err != nil {
			return nil, err
		}
		return out, nil
	case *gnmipb.TypedValue_AsciiVal:
		return val.AsciiVal, nil
	case *gnmipb.TypedValue_ProtoBytes:
		return string(val.ProtoBytes), nil
	default:
		return nil, nil
	}
}

func intOrString(i int64) interface{} {
	return i
}

func uintOrString(u uint64) interface{} {
	if u > maxSafeInt {
		return strconv.FormatUint(u, 10)
	}
	return u
}

// ParseEMS converts a Cisco EMS Telemetry message into ParsedResponse
// records. Every data_gpbkv entry carries a keys group (fields[0])
// and a content group (fields[1]); the content group is walked
// recursively, and a record is emitted at every level of the tree
// where sibling leaves exist, merging those leaves into one
// ParsedResponse.Content so a single record carries every leaf that
// shares a subtree.
func (p *Parser) ParseEMS(tele *telemetry_bis.Telemetry) ([]*telemetry.ParsedResponse, error) {
	var out []*telemetry.ParsedResponse
	basePath := tele.GetEncodingPath()
	hostname := p.Hostname
	if hostname == "" {
		hostname = tele.GetNodeIdStr()
	}
	if hostname == "" {
		hostname = p.IP
	}
	fallbackTS := tele.GetMsgTimestamp()

	for _, entry := range tele.GetDataGpbkv() {
		fields := entry.GetFields()
		var keys map[string]string
		var content []*telemetry_bis.TelemetryField
		if len(fields) > 0 && fields[0].GetName() == "keys" {
			keys = emsKeys(fields[0].GetFields())
		}
		if len(fields) > 1 && fields[1].GetName() == "content" {
			content = fields[1].GetFields()
		} else if len(fields) > 0 && fields[0].GetName() == "content" {
			// Some subscriptions omit the keys group entirely.
			content = fields[0].GetFields()
		} else if len(fields) > 0 && keys == nil {
			// Fields with no keys/content grouping are all content.
			content = fields
		}
		ts := entry.GetTimestamp()
		if ts == 0 {
			ts = fallbackTS
		}
		timestampNs := int64(ts) * int64(time.Millisecond)

		if entry.GetDelete() {
			out = append(out, &telemetry.ParsedResponse{
				YangPath:    basePath,
				Encoding:    "grpc",
				Hostname:    hostname,
				Version:     p.Version,
				IP:          p.IP,
				TimestampNs: timestampNs,
				Keys:        keys,
				Content:     map[string]interface{}{"delete": true},
				Delete:      true,
			})
			continue
		}

		recs, err := walkEMSContent(content, basePath, nil, keys, hostname, p.Version, p.IP, timestampNs)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			// A group carrying only keys still represents a row.
			recs = []*telemetry.ParsedResponse{{
				YangPath:    basePath,
				Encoding:    "grpc",
				Hostname:    hostname,
				Version:     p.Version,
				IP:          p.IP,
				TimestampNs: timestampNs,
				Keys:        keys,
				Content:     map[string]interface{}{},
			}}
		}
		out = append(out, recs...)
	}
	return out, nil
}

func emsKeys(fields []*telemetry_bis.TelemetryField) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	keys := make(map[string]string, len(fields))
	for _, f := range fields {
		v, err := emsValue(f)
		if err != nil {
			continue
		}
		keys[f.GetName()] = toKeyString(v)
	}
	return keys
}

func toKeyString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

// walkEMSContent recurses over an EMS content field list, emitting
// one ParsedResponse per level at which leaf fields are found,
// merging every sibling leaf at that level into a single Content map.
func walkEMSContent(
	fields []*telemetry_bis.TelemetryField,
	basePath string,
	subPath []string,
	keys map[string]string,
	hostname, version, ip string,
	timestampNs int64,
) ([]*telemetry.ParsedResponse, error) {
	var out []*telemetry.ParsedResponse
	leaves := map[string]interface{}{}
	for _, f := range fields {
		if len(f.GetFields()) == 0 {
			v, err := emsValue(f)
			if err != nil {
				return nil, errs.New(errs.KindParse, "parse", "ems field "+f.GetName(), err)
			}
			// Repeated leaf names at one level collapse into a list.
			if prev, ok := leaves[f.GetName()]; ok {
				if list, ok := prev.([]interface{}); ok {
					leaves[f.GetName()] = append(list, v)
				} else {
					leaves[f.GetName()] = []interface{}{prev, v}
				}
			} else {
				leaves[f.GetName()] = v
			}
			continue
		}
		childRecs, err := walkEMSContent(
			f.GetFields(), basePath, append(append([]string{}, subPath...), f.GetName()),
			keys, hostname, version, ip, timestampNs)
		if err != nil {
			return nil, err
		}
		out = append(out, childRecs...)
	}
	if len(leaves) > 0 {
		yangPath := basePath
		if len(subPath) > 0 {
			yangPath = mpath.Join(basePath, joinSlash(subPath))
		}
		out = append(out, &telemetry.ParsedResponse{
			YangPath:    yangPath,
			Encoding:    "grpc",
			Hostname:    hostname,
			Version:     version,
			IP:          ip,
			TimestampNs: timestampNs,
			Keys:        keys,
			Content:     leaves,
		})
	}
	return out, nil
}

func joinSlash(elems []string) string {
	out := ""
	for i, e := range elems {
		if i > 0 {
			out += "/"
		}
		out += e
	}
	return out
}

func emsValue(f *telemetry_bis.TelemetryField) (interface{}, error) {
	switch val := f.ValueByType.(type) {
	case *telemetry_bis.TelemetryField_BytesValue:
		return string(val.BytesValue), nil
	case *telemetry_bis.TelemetryField_StringValue:
		return val.StringValue, nil
	case *telemetry_bis.TelemetryField_BoolValue:
		return val.BoolValue, nil
	case *telemetry_bis.TelemetryField_Uint32Value:
		return uintOrString(uint64(val.Uint32Value)), nil
	case *telemetry_bis.TelemetryField_Uint64Value:
		return uintOrString(val.Uint64Value), nil
	case *telemetry_bis.TelemetryField_Sint32Value:
		return intOrString(int64(val.Sint32Value)), nil
	case *telemetry_bis.TelemetryField_Sint64Value:
		return intOrString(val.Sint64Value), nil
	case *telemetry_bis.TelemetryField_DoubleValue:
		return val.DoubleValue, nil
	case *telemetry_bis.TelemetryField_FloatValue:
		return val.FloatValue, nil
	default:
		// An unset discriminant is a present-but-valueless leaf.
		return "", nil
	}
}
