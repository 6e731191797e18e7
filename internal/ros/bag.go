// Package ros reads ROS 1 and ROS 2 bag files and decodes
// sensor_msgs/PointCloud2 messages into point records.
package ros

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/edaniels/gobag/rosbag"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open input file: %w", pipeline.ErrIO, err)
	}
	defer f.Close()

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, fmt.Errorf("%w: unable to read ros bag %s: %w", pipeline.ErrSourceFormat, filename, err)
	}
	return rb, nil
}

// bagLine is one JSON line produced by gobag with the topic added to meta.
type bagLine struct {
	Meta struct {
		Topic string `json:"topic"`
		Secs  int64  `json:"secs"`
		Nsecs int64  `json:"nsecs"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// ConnectionTypes returns the message type of every topic recorded in the
// bag's connection headers.
func ConnectionTypes(rb *rosbag.RosBag) map[string]string {
	out := make(map[string]string)
	for _, c := range rb.Connections {
		if c.HeaderTopic != "" {
			out[c.HeaderTopic] = c.ConnectionType
		}
	}
	return out
}

// BagSource replays every message of a bag, across all topics, in record
// timestamp order. Each record carries the topic of the connection it was
// recorded on.
type BagSource struct {
	records []source.Record
	pos     int
}

// NewBagSource parses every topic of rb. Message types come from the bag's
// connection headers; entries in typeOverrides replace them per topic.
func NewBagSource(rb *rosbag.RosBag, typeOverrides map[string]string) (*BagSource, error) {
	types := ConnectionTypes(rb)
	for topic, typ := range typeOverrides {
		types[topic] = typ
	}

	all := func(int64) bool { return true }
	allTopics := func(string) bool { return true }
	if err := rb.ParseTopicsToJSON("", all, allTopics, true); err != nil {
		return nil, fmt.Errorf("%w: error while parsing bag to JSON: %w", pipeline.ErrSourceFormat, err)
	}

	keys := make([]string, 0, len(rb.TopicsAsJSON))
	for k := range rb.TopicsAsJSON {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var records []source.Record
	for _, k := range keys {
		recs, err := readTopicLines(k, rb.TopicsAsJSON[k], types)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	logging.Diagf("ros: parsed %d messages across %d topics", len(records), len(keys))
	return &BagSource{records: records}, nil
}

// lineReader is the part of gobag's per-topic buffer used here.
type lineReader interface {
	ReadBytes(delim byte) ([]byte, error)
}

// readTopicLines turns the JSON lines gobag produced for one topic into
// records. A line that does not decode is kept as a record carrying the
// decode error, with whatever meta could be recovered from it.
func readTopicLines(key string, r lineReader, types map[string]string) ([]source.Record, error) {
	var records []source.Record
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			rec, perr := parseBagLine(line, types)
			if perr != nil {
				logging.Warnf("ros: topic %s: %v", key, perr)
				rec = recoverBagLine(line, types)
				rec.Err = perr
			}
			records = append(records, rec)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("%w: read topic %s: %w", pipeline.ErrIO, key, err)
		}
	}
}

func parseBagLine(line []byte, types map[string]string) (source.Record, error) {
	var bl bagLine
	if err := json.Unmarshal(line, &bl); err != nil {
		return source.Record{}, fmt.Errorf("%w: decode bag message: %w", pipeline.ErrSourceFormat, err)
	}
	return source.Record{
		Timestamp: bl.Meta.Secs*1_000_000_000 + bl.Meta.Nsecs,
		Topic:     bl.Meta.Topic,
		MsgType:   types[bl.Meta.Topic],
		Data:      []byte(bl.Data),
	}, nil
}

// recoverBagLine reads the meta object of a line whose data part is broken.
// gobag writes `, "data":` directly after meta, so everything before it
// closes into a valid object.
func recoverBagLine(line []byte, types map[string]string) source.Record {
	idx := bytes.LastIndex(line, []byte(`, "data":`))
	if idx < 0 {
		return source.Record{}
	}
	head := append(append([]byte(nil), line[:idx]...), '}')
	var bl bagLine
	if err := json.Unmarshal(head, &bl); err != nil {
		return source.Record{}
	}
	return source.Record{
		Timestamp: bl.Meta.Secs*1_000_000_000 + bl.Meta.Nsecs,
		Topic:     bl.Meta.Topic,
		MsgType:   types[bl.Meta.Topic],
	}
}

// OpenBag reads the bag at path and returns a source over its messages.
func OpenBag(path string, typeOverrides map[string]string) (*BagSource, error) {
	rb, err := ReadBag(path)
	if err != nil {
		return nil, err
	}
	return NewBagSource(rb, typeOverrides)
}

// Len returns the number of records in the bag.
func (b *BagSource) Len() int { return len(b.records) }

// Next returns the next record or io.EOF.
func (b *BagSource) Next(ctx context.Context) (source.Record, error) {
	if err := ctx.Err(); err != nil {
		return source.Record{}, err
	}
	if b.pos >= len(b.records) {
		return source.Record{}, io.EOF
	}
	rec := b.records[b.pos]
	b.pos++
	return rec, nil
}

// Close releases the parsed records.
func (b *BagSource) Close() error {
	b.records = nil
	return nil
}
