package probe

import (
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
	"cmp"
	"fmt"
	"net/netip"
	"slices"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Envelope is a snapshot as received from the wire, tagged with the
// instance that exported it.
type Envelope struct {
	Agent    string
	Snapshot *model.Snapshot
}

// SnapshotToStruct converts a snapshot to a protobuf Struct.
func SnapshotToStruct(agent string, s *model.Snapshot) (*structpb.Struct, error) {
	ts, err := protojson.Marshal(timestamppb.New(s.Timestamp))
	if err != nil {
		return nil, err
	}

	records := make([]any, 0, len(s.Records))
	for _, r := range s.Records {
		records = append(records, map[string]any{
			"fqdn":   r.Key.Fqdn,
			"ip":     r.Key.IPString(),
			"port":   int(r.Key.Port),
			"type":   r.Key.Type,
			"proto":  r.Key.Transport.String(),
			"client": stringsToAny(r.Client),
			"server": stringsToAny(r.Server),
		})
	}

	metrics := make([]any, 0, len(s.Metrics))
	for _, m := range s.Metrics {
		tags := make(map[string]any, len(m.Tags))
		for _, t := range m.Tags {
			tags[t.Key] = t.Value
		}
		metrics = append(metrics, map[string]any{
			"name":        m.Name,
			"value":       m.Value,
			"kind":        m.Kind.String(),
			"sample_rate": m.SampleRate,
			"tags":        tags,
		})
	}

	return structpb.NewStruct(map[string]any{
		"agent":     agent,
		"collector": s.Collector,
		// protojson renders timestamps as a quoted RFC 3339 string.
		"timestamp": string(ts[1 : len(ts)-1]),
		"duration":  s.Duration,
		"records":   records,
		"metrics":   metrics,
	})
}

// EncodeSnapshot serializes a snapshot to the protobuf binary format.
func EncodeSnapshot(agent string, s *model.Snapshot) ([]byte, error) {
	st, err := SnapshotToStruct(agent, s)
	if err != nil {
		return nil, fmt.Errorf("failed to convert snapshot: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeSnapshot parses a payload produced by EncodeSnapshot. The output
// table is not transported.
func DecodeSnapshot(data []byte) (*Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	fields := st.GetFields()

	s := &model.Snapshot{
		Collector: fields["collector"].GetStringValue(),
		Duration:  int(fields["duration"].GetNumberValue()),
	}
	if raw := fields["timestamp"].GetStringValue(); raw != "" {
		var ts timestamppb.Timestamp
		if err := protojson.Unmarshal([]byte(`"`+raw+`"`), &ts); err != nil {
			return nil, fmt.Errorf("invalid snapshot timestamp %q: %w", raw, err)
		}
		s.Timestamp = ts.AsTime()
	}

	for _, v := range fields["records"].GetListValue().GetValues() {
		r := v.GetStructValue().GetFields()
		key := flow.AggregatedKey{
			Fqdn: r["fqdn"].GetStringValue(),
			Port: uint16(r["port"].GetNumberValue()),
			Type: r["type"].GetStringValue(),
		}
		if ip, err := netip.ParseAddr(r["ip"].GetStringValue()); err == nil {
			key.IP = ip
		}
		if r["proto"].GetStringValue() == flow.UDP.String() {
			key.Transport = flow.UDP
		}
		s.Records = append(s.Records, model.Record{
			Key:    key,
			Client: structToStrings(r["client"].GetStructValue()),
			Server: structToStrings(r["server"].GetStructValue()),
		})
	}

	for _, v := range fields["metrics"].GetListValue().GetValues() {
		m := v.GetStructValue().GetFields()
		metric := model.Metric{
			Name:       m["name"].GetStringValue(),
			Value:      m["value"].GetNumberValue(),
			Kind:       parseKind(m["kind"].GetStringValue()),
			SampleRate: m["sample_rate"].GetNumberValue(),
		}
		for k, tv := range m["tags"].GetStructValue().GetFields() {
			metric.Tags = append(metric.Tags, model.Tag{Key: k, Value: tv.GetStringValue()})
		}
		slices.SortFunc(metric.Tags, func(a, b model.Tag) int { return cmp.Compare(a.Key, b.Key) })
		s.Metrics = append(s.Metrics, metric)
	}

	return &Envelope{Agent: fields["agent"].GetStringValue(), Snapshot: s}, nil
}

func stringsToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func structToStrings(st *structpb.Struct) map[string]string {
	out := make(map[string]string, len(st.GetFields()))
	for k, v := range st.GetFields() {
		out[k] = v.GetStringValue()
	}
	return out
}

func parseKind(s string) model.MetricKind {
	switch s {
	case model.Gauge.String():
		return model.Gauge
	case model.Histogram.String():
		return model.Histogram
	default:
		return model.Counter
	}
}
