package journal

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlat/kvlat/internal/results"
)

func record(runID string) *Record {
	return &Record{Summary: results.Summary{
		RunID:      runID,
		Backend:    "memory",
		Iterations: 100,
		Phases: []results.PhaseSummary{
			{Name: "write", Op: "write", Count: 100, MeanUS: 1.5, P90US: 2},
		},
	}}
}

func firstSegment(dir string) string {
	return filepath.Join(dir, "history_0000000000000000.log")
}

func TestJournal_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 0, nil)
	require.NoError(t, err)
	defer j.Close()

	seq, err := j.Append(record("run-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = j.Append(record("run-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-1", all[0].Summary.RunID)
	assert.Equal(t, "run-2", all[1].Summary.RunID)
	assert.Equal(t, 1.5, all[0].Summary.Phases[0].MeanUS)
	assert.False(t, all[0].RecordedAt.IsZero())
}

func TestJournal_Tail(t *testing.T) {
	j, err := Open(t.TempDir(), 0, nil)
	require.NoError(t, err)
	defer j.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := j.Append(record(id))
		require.NoError(t, err)
	}

	tail, err := j.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "c", tail[0].Summary.RunID)
	assert.Equal(t, "d", tail[1].Summary.RunID)

	all, err := j.Tail(0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestJournal_SegmentRotation(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 512, nil)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 10; i++ {
		_, err := j.Append(record("rotating"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i, r := range all {
		assert.Equal(t, uint64(i+1), r.Seq)
	}
}

func TestJournal_ChecksumMismatchSkipped(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 0, nil)
	require.NoError(t, err)

	_, err = j.Append(record("good-1"))
	require.NoError(t, err)
	_, err = j.Append(record("bad"))
	require.NoError(t, err)
	_, err = j.Append(record("good-2"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Flip a payload byte in the second frame.
	path := firstSegment(dir)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	firstLen := binary.LittleEndian.Uint32(raw[0:4])
	second := int(frameHeader + firstLen)
	raw[second+frameHeader+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	j, err = Open(dir, 0, nil)
	require.NoError(t, err)
	defer j.Close()

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "good-1", all[0].Summary.RunID)
	assert.Equal(t, "good-2", all[1].Summary.RunID)
}

func TestJournal_TornTailTruncatedOnReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 0, nil)
	require.NoError(t, err)
	_, err = j.Append(record("kept"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	f, err := os.OpenFile(firstSegment(dir), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x40, 0, 0, 0, 1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(dir, 0, nil)
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Append(record("after"))
	require.NoError(t, err)

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "after", all[1].Summary.RunID)
}

func TestJournal_CorruptLengthKeepsLaterRecords(t *testing.T) {
	for name, length := range map[string]uint32{
		"oversized": 0xFFFFFFFF,
		"too short": 10,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			j, err := Open(dir, 0, nil)
			require.NoError(t, err)
			for _, id := range []string{"first", "damaged", "third"} {
				_, err := j.Append(record(id))
				require.NoError(t, err)
			}
			require.NoError(t, j.Close())

			path := firstSegment(dir)
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			second := frameHeader + int(binary.LittleEndian.Uint32(raw[0:4]))
			binary.LittleEndian.PutUint32(raw[second:second+4], length)
			require.NoError(t, os.WriteFile(path, raw, 0644))

			j, err = Open(dir, 0, nil)
			require.NoError(t, err)
			defer j.Close()

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, int64(len(raw)), info.Size())
			assert.Equal(t, uint64(3), j.Seq())

			seq, err := j.Append(record("fourth"))
			require.NoError(t, err)
			assert.Equal(t, uint64(4), seq)

			all, err := j.ReadAll()
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "first", all[0].Summary.RunID)
			assert.Equal(t, "third", all[1].Summary.RunID)
			assert.Equal(t, "fourth", all[2].Summary.RunID)
			assert.Equal(t, uint64(3), all[1].Seq)
		})
	}
}

func TestJournal_ZeroPaddedTailTruncated(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 0, nil)
	require.NoError(t, err)
	_, err = j.Append(record("kept"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := firstSegment(dir)
	before, err := os.Stat(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 64))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(dir, 0, nil)
	require.NoError(t, err)
	defer j.Close()

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())
}

type syncFailingSegment struct {
	segmentFile
}

func (s syncFailingSegment) Sync() error {
	return errors.New("fsync: input/output error")
}

func TestJournal_SyncFailureStopsAppends(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 0, nil)
	require.NoError(t, err)
	j.segment = syncFailingSegment{j.segment}

	_, err = j.Append(record("unsynced"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fsync")

	_, err = j.Append(record("refused"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unusable")
	require.NoError(t, j.Close())

	j, err = Open(dir, 0, nil)
	require.NoError(t, err)
	defer j.Close()

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "unsynced", all[0].Summary.RunID)
	assert.Equal(t, uint64(1), all[0].Seq)

	seq, err := j.Append(record("next"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestJournal_CloseAndReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 512, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := j.Append(record("first"))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = j.Append(record("closed"))
	assert.Error(t, err)

	j, err = Open(dir, 512, nil)
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, uint64(5), j.Seq())

	seq, err := j.Append(record("second"))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), seq)
}

func TestJournal_ConcurrentAppend(t *testing.T) {
	j, err := Open(t.TempDir(), 0, nil)
	require.NoError(t, err)
	defer j.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := j.Append(record("concurrent"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 80)
	for i, r := range all {
		assert.Equal(t, uint64(i+1), r.Seq)
	}
}

func TestParseSegmentID(t *testing.T) {
	id, ok := parseSegmentID("history_000000000000001f.log")
	assert.True(t, ok)
	assert.Equal(t, uint64(31), id)

	for _, name := range []string{"wal_0000000000000000.log", "history_1.log", "history_000000000000001f.tmp"} {
		_, ok := parseSegmentID(name)
		assert.False(t, ok, name)
	}
}
