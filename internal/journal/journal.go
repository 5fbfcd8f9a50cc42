// Package journal keeps an append-only, checksummed history of completed
// benchmark runs on local disk.
//
// Each segment file is a sequence of frames:
//
//	[length:4 LE][crc32:4 LE][json payload:length]
//
// A frame whose checksum does not match is skipped. A frame that cannot be
// read at all is resynchronised past by scanning for the next intact frame;
// only bytes with no intact frame after them are treated as a torn tail.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kvlat/kvlat/internal/results"
)

const (
	segmentPrefix = "history_"
	segmentSuffix = ".log"
	frameHeader   = 8
	maxFrameSize  = 64 * 1024 * 1024

	// DefaultMaxSegmentSize is the rotation threshold used by the CLI.
	DefaultMaxSegmentSize = 4 * 1024 * 1024
)

// Record is one completed run.
type Record struct {
	Seq        uint64          `json:"seq"`
	RecordedAt time.Time       `json:"recorded_at"`
	Summary    results.Summary `json:"summary"`
}

// segmentFile is the open segment being appended to.
type segmentFile interface {
	io.Writer
	Sync() error
	Close() error
}

// Journal appends records to rotating segment files. Every append is
// fsynced before it returns. After a failed write or sync the journal
// refuses further appends; reopen it to continue.
type Journal struct {
	dir        string
	maxSegSize int64
	logger     *zap.Logger

	mu        sync.Mutex
	segment   segmentFile
	segmentID uint64
	offset    int64
	seq       uint64
	failed    error
}

// Open opens or creates the journal in dir. The sequence continues from
// the highest record already on disk.
func Open(dir string, maxSegSize int64, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSegSize <= 0 {
		maxSegSize = DefaultMaxSegmentSize
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{dir: dir, maxSegSize: maxSegSize, logger: logger}

	segments, err := j.segments()
	if err != nil {
		return nil, err
	}
	for i, path := range segments {
		id, _ := parseSegmentID(filepath.Base(path))
		if id > j.segmentID {
			j.segmentID = id
		}
		records, end, err := readSegment(path, logger)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.Seq > j.seq {
				j.seq = r.Seq
			}
		}
		// Appends go to the last segment; drop a torn tail so they stay
		// aligned to frame boundaries.
		if i == len(segments)-1 {
			if err := truncateTail(path, end, logger); err != nil {
				return nil, err
			}
		}
	}

	if err := j.openSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append assigns the next sequence number to r, writes it and syncs.
func (j *Journal) Append(r *Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment == nil {
		return 0, fmt.Errorf("journal is closed")
	}
	if j.failed != nil {
		return 0, fmt.Errorf("journal unusable after earlier failure: %w", j.failed)
	}

	j.seq++
	r.Seq = j.seq
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		j.seq--
		return 0, fmt.Errorf("failed to serialize record: %w", err)
	}

	frame := make([]byte, frameHeader+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[frameHeader:], payload)

	if _, err := j.segment.Write(frame); err != nil {
		// Part of the frame may be on disk; reopening drops it as a torn tail.
		j.seq--
		j.failed = err
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	j.offset += int64(len(frame))
	if err := j.segment.Sync(); err != nil {
		// The frame was written and may survive, so its sequence number
		// stays taken.
		j.failed = err
		return 0, fmt.Errorf("failed to fsync: %w", err)
	}

	if j.offset >= j.maxSegSize {
		if err := j.rotate(); err != nil {
			return 0, err
		}
	}
	return r.Seq, nil
}

// ReadAll returns every intact record in sequence order.
func (j *Journal) ReadAll() ([]*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := j.segments()
	if err != nil {
		return nil, err
	}

	var all []*Record
	for _, path := range segments {
		records, _, err := readSegment(path, j.logger)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Seq < all[b].Seq })
	return all, nil
}

// Tail returns the last n records, newest last. n <= 0 returns all.
func (j *Journal) Tail(n int) ([]*Record, error) {
	all, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Seq returns the last assigned sequence number.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close syncs and closes the open segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment == nil {
		return nil
	}
	if j.failed == nil {
		if err := j.segment.Sync(); err != nil {
			j.segment.Close()
			j.segment = nil
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
	}
	err := j.segment.Close()
	j.segment = nil
	if err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	return nil
}

func (j *Journal) rotate() error {
	if err := j.segment.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	j.segmentID++
	j.logger.Debug("journal segment rotated", zap.Uint64("segment", j.segmentID))
	return j.openSegment()
}

func (j *Journal) openSegment() error {
	file, err := os.OpenFile(j.segmentPath(j.segmentID), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}
	j.segment = file
	j.offset = offset
	return nil
}

func (j *Journal) segmentPath(id uint64) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s%016x%s", segmentPrefix, id, segmentSuffix))
}

// segments lists segment files in id order.
func (j *Journal) segments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseSegmentID(e.Name()); ok {
			paths = append(paths, filepath.Join(j.dir, e.Name()))
		}
	}
	// Fixed-width hex ids sort lexicographically in id order.
	sort.Strings(paths)
	return paths, nil
}

func parseSegmentID(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	hex := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	if len(hex) != 16 {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(hex, "%016x", &id); err != nil {
		return 0, false
	}
	return id, true
}

func truncateTail(path string, end int64, logger *zap.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat segment: %w", err)
	}
	if info.Size() <= end {
		return nil
	}
	logger.Warn("journal: truncating torn tail",
		zap.String("segment", path), zap.Int64("size", info.Size()), zap.Int64("end", end))
	if err := os.Truncate(path, end); err != nil {
		return fmt.Errorf("failed to truncate segment: %w", err)
	}
	return nil
}

type frameStatus int

const (
	frameIntact frameStatus = iota
	frameBadChecksum
	frameUnreadable
)

// decodeFrame inspects the frame at the start of buf and returns its
// payload and total size.
func decodeFrame(buf []byte) ([]byte, int, frameStatus) {
	if len(buf) < frameHeader {
		return nil, 0, frameUnreadable
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if length == 0 || length > maxFrameSize || int64(len(buf)-frameHeader) < int64(length) {
		return nil, 0, frameUnreadable
	}
	n := frameHeader + int(length)
	payload := buf[frameHeader:n]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(buf[4:8]) {
		return nil, n, frameBadChecksum
	}
	return payload, n, frameIntact
}

// resync returns the offset of the next intact frame at or after from,
// or -1 if there is none.
func resync(data []byte, from int) int {
	for i := from; i+frameHeader <= len(data); i++ {
		if _, _, st := decodeFrame(data[i:]); st == frameIntact {
			return i
		}
	}
	return -1
}

// readSegment decodes the intact frames of one segment. A damaged frame
// is skipped by scanning for the next intact one, since its length field
// cannot be trusted. end is the offset past the last intact frame when
// nothing intact follows the damage, and the file size otherwise.
func readSegment(path string, logger *zap.Logger) ([]*Record, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read segment: %w", err)
	}

	var (
		records []*Record
		pos     int
	)
	for pos < len(data) {
		payload, n, status := decodeFrame(data[pos:])
		if status != frameIntact {
			next := resync(data, pos+1)
			if next < 0 {
				logger.Warn("journal: torn frame at end of segment",
					zap.String("segment", path), zap.Int("offset", pos))
				return records, int64(pos), nil
			}
			if status == frameBadChecksum {
				logger.Warn("journal: checksum mismatch, skipping record",
					zap.String("segment", path), zap.Int("offset", pos))
			} else {
				logger.Warn("journal: unreadable frame, resynchronised",
					zap.String("segment", path), zap.Int("offset", pos), zap.Int("skipped", next-pos))
			}
			pos = next
			continue
		}

		var r Record
		if err := json.Unmarshal(payload, &r); err != nil {
			logger.Warn("journal: undecodable record", zap.String("segment", path), zap.Error(err))
		} else {
			records = append(records, &r)
		}
		pos += n
	}
	return records, int64(pos), nil
}
