package oplog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrBeforeStartOffset is returned by the read paths when asked for a
// position that ClearUpTo has already logically dropped.
var ErrBeforeStartOffset = errors.New("oplog: position before startOffset")

// ErrSlotOverflow is returned by WriteSlot.Write when a producer tries to
// write more bytes than the slot reserved.
var ErrSlotOverflow = errors.New("oplog: write exceeds reserved slot size")

const (
	sizeFileName  = "size"
	startFileName = "start"
)

// Storage is LogStorage: the chunked, append-only operation log. Appends
// are served by appendReservation/WriteSlot; reads are random-access and
// lock-free for positions already below persistentSize().
type Storage struct {
	dir       string
	chunkSize int64

	tailPos atomic.Uint64 // emergingSize(): reservation front

	mu              sync.Mutex
	drained         *sync.Cond
	persistentFront uint64          // persistentSize(): contiguous written prefix
	pending         map[uint64]int  // pos -> size, for outstanding reservations
	closedPositions map[uint64]bool // pos -> true once physically written

	startOffset atomic.Uint64

	sizeFile  *os.File
	startFile *os.File

	chunks   map[int64]*os.File
	chunksMu sync.RWMutex

	writeCh chan writeJob
	workers errgroup.Group
}

type writeJob struct {
	pos  uint64
	data []byte
}

// Open opens or creates a LogStorage rooted at dir, with the given chunk
// granularity and append-worker pool size.
func Open(dir string, chunkSize int64, workers int, queueCapacity int) (*Storage, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("oplog: chunkSize must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("oplog: create operations dir: %w", err)
	}

	s := &Storage{
		dir:             dir,
		chunkSize:       chunkSize,
		pending:         make(map[uint64]int),
		closedPositions: make(map[uint64]bool),
		chunks:          make(map[int64]*os.File),
	}
	s.drained = sync.NewCond(&s.mu)

	sizeFile, err := os.OpenFile(filepath.Join(dir, sizeFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open size file: %w", err)
	}
	s.sizeFile = sizeFile
	if persisted, ok := readUint64File(sizeFile); ok {
		s.persistentFront = persisted
	}
	s.tailPos.Store(s.persistentFront)

	startFile, err := os.OpenFile(filepath.Join(dir, startFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open start file: %w", err)
	}
	s.startFile = startFile
	if persisted, ok := readUint64File(startFile); ok {
		s.startOffset.Store(persisted)
	}

	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	if workers <= 0 {
		workers = 1
	}
	s.writeCh = make(chan writeJob, queueCapacity)
	for i := 0; i < workers; i++ {
		s.workers.Go(func() error {
			s.writeWorker()
			return nil
		})
	}

	return s, nil
}

func readUint64File(f *os.File) (uint64, bool) {
	var buf [8]byte
	n, err := f.ReadAt(buf[:], 0)
	if err != nil || n != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

func writeUint64File(f *os.File, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := f.WriteAt(buf[:], 0)
	return err
}

func (s *Storage) chunkIndex(pos uint64) int64  { return int64(pos) / s.chunkSize }
func (s *Storage) chunkOffset(pos uint64) int64 { return int64(pos) % s.chunkSize }

func (s *Storage) chunkFile(idx int64, create bool) (*os.File, error) {
	s.chunksMu.RLock()
	f, ok := s.chunks[idx]
	s.chunksMu.RUnlock()
	if ok {
		return f, nil
	}

	s.chunksMu.Lock()
	defer s.chunksMu.Unlock()
	if f, ok := s.chunks[idx]; ok {
		return f, nil
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	path := filepath.Join(s.dir, strconv.FormatInt(idx, 10))
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	s.chunks[idx] = f
	return f, nil
}

// WriteSlot is a reserved, not-yet-durable region of the log. Write fills
// it; Close hands it to the append-worker pool (or writes it inline under
// backpressure).
type WriteSlot struct {
	storage *Storage
	pos     uint64
	buf     []byte
	filled  int
}

// Position is this slot's absolute offset in the log.
func (w *WriteSlot) Position() uint64 { return w.pos }

// Write copies p into the slot's buffer. The full reserved size must be
// written (via one or more calls) before Close.
func (w *WriteSlot) Write(p []byte) (int, error) {
	if w.filled+len(p) > len(w.buf) {
		return 0, ErrSlotOverflow
	}
	n := copy(w.buf[w.filled:], p)
	w.filled += n
	return n, nil
}

// Close submits the filled buffer for durable writing. Reservations must be
// fully written before Close; a short write is programmer error and panics,
// mirroring the contract that a producer always serializes its own
// complete descriptor (failed operations still write a full Incomplete
// frame, never a short one).
func (w *WriteSlot) Close() error {
	if w.filled != len(w.buf) {
		panic("oplog: WriteSlot closed with a partially written descriptor")
	}
	job := writeJob{pos: w.pos, data: w.buf}
	select {
	case w.storage.writeCh <- job:
	default:
		w.storage.runWriteJob(job)
	}
	return nil
}

// AppendReservation atomically reserves DescriptorLen(tag, contentLen)
// bytes at the current tail and returns a WriteSlot positioned there.
// Reservations never straddle a chunk boundary: if the current chunk lacks
// room, the tail jumps to the next chunk's start and the skipped bytes are
// simply never addressed by any descriptor.
func (s *Storage) AppendReservation(tag Tag, contentLen int) (*WriteSlot, error) {
	size := DescriptorLen(tag, contentLen)
	if size <= 0 {
		return nil, fmt.Errorf("oplog: unknown tag %v", tag)
	}
	pos := s.reserve(int64(size))

	s.mu.Lock()
	s.pending[pos] = size
	s.mu.Unlock()

	return &WriteSlot{storage: s, pos: pos, buf: make([]byte, size)}, nil
}

func (s *Storage) reserve(size int64) uint64 {
	for {
		old := s.tailPos.Load()
		offset := int64(old) % s.chunkSize
		if s.chunkSize-offset >= size {
			if s.tailPos.CompareAndSwap(old, old+uint64(size)) {
				return old
			}
			continue
		}
		return s.reserveWithRollover(size)
	}
}

func (s *Storage) reserveWithRollover(size int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.tailPos.Load()
	chunkIdx := int64(old) / s.chunkSize
	offset := int64(old) % s.chunkSize
	pos := old
	if s.chunkSize-offset < size {
		pos = uint64((chunkIdx + 1) * s.chunkSize)
		if gap := pos - old; gap > 0 {
			// The skipped tail of the old chunk never gets a descriptor, so
			// no write will ever complete it. Record it as an already-closed
			// reservation so completeWrite's contiguous-prefix walk can step
			// over it instead of stalling at old forever.
			s.pending[old] = int(gap)
			s.closedPositions[old] = true
		}
	}
	s.tailPos.Store(pos + uint64(size))
	return pos
}

func (s *Storage) runWriteJob(job writeJob) {
	idx := s.chunkIndex(job.pos)
	off := s.chunkOffset(job.pos)
	f, err := s.chunkFile(idx, true)
	if err == nil {
		_, err = f.WriteAt(job.data, off)
	}
	s.completeWrite(job.pos, len(job.data), err)
}

func (s *Storage) writeWorker() {
	for job := range s.writeCh {
		s.runWriteJob(job)
	}
}

// completeWrite marks pos as physically written and advances
// persistentFront past any now-contiguous run of closed reservations.
func (s *Storage) completeWrite(pos uint64, size int, writeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if writeErr != nil {
		// The slot is permanently stuck open; persistentFront will never
		// advance past it. This only happens on disk failure, which the
		// caller's Flush/Close will surface through the filesystem itself.
		return
	}

	s.closedPositions[pos] = true
	for {
		sz, ok := s.pending[s.persistentFront]
		if !ok || !s.closedPositions[s.persistentFront] {
			break
		}
		delete(s.pending, s.persistentFront)
		delete(s.closedPositions, s.persistentFront)
		s.persistentFront += uint64(sz)
	}
	_ = writeUint64File(s.sizeFile, s.persistentFront)
	_ = size // size is implied by sz above; kept for symmetry with job accounting
	if len(s.pending) == 0 {
		s.drained.Broadcast()
	}
}

// Size is persistentSize(): the largest offset such that every reservation
// below it has been durably written.
func (s *Storage) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistentFront
}

// EmergingSize is the reservation front: positions up to here have been
// claimed by a producer but may not yet be durable.
func (s *Storage) EmergingSize() uint64 { return s.tailPos.Load() }

// StartOffset is the earliest position still considered valid.
func (s *Storage) StartOffset() uint64 { return s.startOffset.Load() }

// ClearUpTo logically drops chunks before pos: positions before it will
// fail on read. It does not reclaim disk space itself.
func (s *Storage) ClearUpTo(pos uint64) error {
	s.startOffset.Store(pos)
	return writeUint64File(s.startFile, pos)
}

// TruncateEnd overwrites the persisted size marker directly, independent of
// the normal append-completion bookkeeping. Recovery Stage 0 uses this on a
// freshly copied destination log to cut it to the chosen recovery point;
// it must not be called on a log still accepting appends.
func (s *Storage) TruncateEnd(pos uint64) error {
	s.mu.Lock()
	s.persistentFront = pos
	s.tailPos.Store(pos)
	s.mu.Unlock()
	return writeUint64File(s.sizeFile, pos)
}

// Flush blocks until every submitted write has been durably applied and
// syncs the chunk and marker files. It does not wait for in-flight
// WriteSlots that have not yet been Closed.
func (s *Storage) Flush() error {
	s.mu.Lock()
	for len(s.pending) != 0 {
		s.drained.Wait()
	}
	s.mu.Unlock()

	if err := s.sizeFile.Sync(); err != nil {
		return err
	}
	s.chunksMu.RLock()
	defer s.chunksMu.RUnlock()
	for _, f := range s.chunks {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the append-worker pool and closes every open file handle.
// Pending WriteSlots that were never Closed are abandoned.
func (s *Storage) Close() error {
	close(s.writeCh)
	s.workers.Wait()

	s.chunksMu.Lock()
	for _, f := range s.chunks {
		f.Close()
	}
	s.chunksMu.Unlock()

	s.sizeFile.Close()
	s.startFile.Close()
	return nil
}
