package ros

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

// bag2Query reads messages in record order. Each row names its own topic
// through topic_id; a dangling topic_id yields NULL name and type.
const bag2Query = `
SELECT m.id, m.topic_id, m.timestamp, t.name, t.type, m.data
FROM messages m LEFT JOIN topics t ON t.id = m.topic_id
ORDER BY m.timestamp, m.id`

// Bag2Source replays the messages of a ROS 2 sqlite3 bag. A split bag is
// read file by file in split order.
type Bag2Source struct {
	files []string
	next  int
	types map[string]string

	db   *sql.DB
	rows *sql.Rows
}

// OpenBag2 opens a ROS 2 bag: either a single .db3 file or a bag directory
// holding one or more .db3 splits. typeOverrides replace the recorded type
// per topic; ROS 1 style names ("pkg/Type") are mapped to "pkg/msg/Type".
func OpenBag2(path string, typeOverrides map[string]string) (*Bag2Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open input bag: %w", pipeline.ErrIO, err)
	}
	files := []string{path}
	if fi.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.db3"))
		if err != nil {
			return nil, fmt.Errorf("%w: list bag files: %w", pipeline.ErrIO, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: no .db3 files in %s", pipeline.ErrSourceFormat, path)
		}
		sortSplits(files)
	}

	types := make(map[string]string, len(typeOverrides))
	for topic, typ := range typeOverrides {
		types[topic] = ros2TypeName(typ)
	}
	logging.Diagf("ros: bag2 %s: %d file(s)", path, len(files))
	return &Bag2Source{files: files, types: types}, nil
}

// ros2TypeName maps "pkg/Type" to "pkg/msg/Type" and leaves other names alone.
func ros2TypeName(t string) string {
	if strings.Count(t, "/") != 1 {
		return t
	}
	pkg, name, _ := strings.Cut(t, "/")
	return pkg + "/msg/" + name
}

// sortSplits orders rosbag2 split files (name_0.db3, name_1.db3, ...) by
// split index, falling back to name order.
func sortSplits(files []string) {
	index := func(p string) (int, bool) {
		base := strings.TrimSuffix(filepath.Base(p), ".db3")
		i := strings.LastIndexByte(base, '_')
		if i < 0 {
			return 0, false
		}
		n, err := strconv.Atoi(base[i+1:])
		return n, err == nil
	}
	sort.SliceStable(files, func(a, b int) bool {
		ia, oka := index(files[a])
		ib, okb := index(files[b])
		if oka && okb && ia != ib {
			return ia < ib
		}
		return files[a] < files[b]
	})
}

func (b *Bag2Source) openNext(ctx context.Context) error {
	path := b.files[b.next]
	b.next++
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", pipeline.ErrIO, path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		db.Close()
		return fmt.Errorf("%w: open %s: %w", pipeline.ErrSourceFormat, path, err)
	}
	rows, err := db.QueryContext(ctx, bag2Query)
	if err != nil {
		db.Close()
		return fmt.Errorf("%w: %s is not a ROS 2 bag: %w", pipeline.ErrSourceFormat, path, err)
	}
	b.db, b.rows = db, rows
	return nil
}

func (b *Bag2Source) closeCurrent() error {
	var err error
	if b.rows != nil {
		err = b.rows.Close()
		b.rows = nil
	}
	if b.db != nil {
		if cerr := b.db.Close(); err == nil {
			err = cerr
		}
		b.db = nil
	}
	return err
}

// Next returns the next message or io.EOF after the last split.
func (b *Bag2Source) Next(ctx context.Context) (source.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return source.Record{}, err
		}
		if b.rows == nil {
			if b.next >= len(b.files) {
				return source.Record{}, io.EOF
			}
			if err := b.openNext(ctx); err != nil {
				return source.Record{}, err
			}
		}
		if b.rows.Next() {
			return b.scan()
		}
		if err := b.rows.Err(); err != nil {
			b.closeCurrent()
			return source.Record{}, fmt.Errorf("%w: read bag messages: %w", pipeline.ErrSourceFormat, err)
		}
		if err := b.closeCurrent(); err != nil {
			return source.Record{}, fmt.Errorf("%w: close bag file: %w", pipeline.ErrIO, err)
		}
	}
}

func (b *Bag2Source) scan() (source.Record, error) {
	var (
		id, topicID, ts int64
		name, typ       sql.NullString
		data            []byte
	)
	if err := b.rows.Scan(&id, &topicID, &ts, &name, &typ, &data); err != nil {
		return source.Record{}, fmt.Errorf("%w: scan bag message: %w", pipeline.ErrSourceFormat, err)
	}
	rec := source.Record{Timestamp: ts, Data: data}
	if !name.Valid {
		rec.Data = nil
		rec.Err = fmt.Errorf("%w: message %d references unknown topic id %d", pipeline.ErrReference, id, topicID)
		return rec, nil
	}
	rec.Topic = name.String
	rec.MsgType = typ.String
	if t, ok := b.types[rec.Topic]; ok {
		rec.MsgType = t
	}
	return rec, nil
}

// Close releases the open bag file.
func (b *Bag2Source) Close() error {
	b.next = len(b.files)
	return b.closeCurrent()
}

// Bag2Message is one message for WriteBag2.
type Bag2Message struct {
	Timestamp int64
	Topic     string
	Type      string
	Data      []byte
}

// WriteBag2 creates a ROS 2 sqlite3 bag at path holding msgs. Topics are
// numbered in order of first appearance.
func WriteBag2(path string, msgs []Bag2Message) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", pipeline.ErrIO, path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE schema(schema_version INTEGER PRIMARY KEY, ros_distro TEXT NOT NULL);
CREATE TABLE topics(id INTEGER PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL,
	serialization_format TEXT NOT NULL, offered_qos_profiles TEXT NOT NULL);
CREATE TABLE messages(id INTEGER PRIMARY KEY, topic_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL, data BLOB NOT NULL);
CREATE INDEX timestamp_idx ON messages (timestamp ASC);
INSERT INTO schema VALUES (3, 'humble');`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("%w: create bag schema: %w", pipeline.ErrIO, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrIO, err)
	}
	defer tx.Rollback()
	ids := make(map[string]int64)
	for _, m := range msgs {
		id, ok := ids[m.Topic]
		if !ok {
			id = int64(len(ids) + 1)
			ids[m.Topic] = id
			if _, err := tx.Exec(`INSERT INTO topics (id, name, type, serialization_format, offered_qos_profiles) VALUES (?, ?, ?, 'cdr', '')`,
				id, m.Topic, m.Type); err != nil {
				return fmt.Errorf("%w: insert topic %s: %w", pipeline.ErrIO, m.Topic, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO messages (topic_id, timestamp, data) VALUES (?, ?, ?)`, id, m.Timestamp, m.Data); err != nil {
			return fmt.Errorf("%w: insert message: %w", pipeline.ErrIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit bag: %w", pipeline.ErrIO, err)
	}
	return nil
}
