package consensus

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gogo/protobuf/proto"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// Storage implements raft.Storage with file-backed persistence. The whole
// log state is rewritten atomically on every mutation, so each write costs
// time proportional to the retained log; entries are dropped only by an
// explicit Compact.
type Storage struct {
	mu          sync.RWMutex
	path        string
	entryOffset uint64

	hardState raftpb.HardState
	confState raftpb.ConfState
	snapshot  raftpb.Snapshot
	entries   []raftpb.Entry
}

// NewStorage constructs a storage rooted at dir, creating it if needed.
func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("consensus: storage dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	st := &Storage{
		path:        filepath.Join(dir, "raft.state"),
		entryOffset: 1,
	}
	if err := st.load(); err != nil {
		return nil, err
	}
	return st, nil
}

// InitialState implements raft.Storage.
func (s *Storage) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardState, s.confState, nil
}

// SetHardState persists the raft hard state.
func (s *Storage) SetHardState(hs raftpb.HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardState = hs
	return s.persistLocked()
}

// SetConfState persists the raft configuration state.
func (s *Storage) SetConfState(cs *raftpb.ConfState) error {
	if cs == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confState = *proto.Clone(cs).(*raftpb.ConfState)
	return s.persistLocked()
}

// Entries implements raft.Storage.
func (s *Storage) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lo < s.firstIndexLocked() {
		return nil, raft.ErrCompacted
	}
	if hi > s.lastIndexLocked()+1 {
		return nil, raft.ErrUnavailable
	}
	if len(s.entries) == 0 {
		return nil, nil
	}

	start := lo - s.entryOffset
	end := hi - s.entryOffset
	if end > uint64(len(s.entries)) {
		end = uint64(len(s.entries))
	}
	ents := cloneEntries(s.entries[start:end])
	if maxSize > 0 {
		return limitSize(ents, maxSize), nil
	}
	return ents, nil
}

// Term implements raft.Storage.
func (s *Storage) Term(i uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.termAtLocked(i)
}

// LastIndex implements raft.Storage.
func (s *Storage) LastIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndexLocked(), nil
}

// FirstIndex implements raft.Storage.
func (s *Storage) FirstIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstIndexLocked(), nil
}

// Snapshot implements raft.Storage.
func (s *Storage) Snapshot() (raftpb.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.snapshot), nil
}

// ApplySnapshot installs a snapshot received from a peer.
func (s *Storage) ApplySnapshot(snap raftpb.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Metadata.Index < s.snapshot.Metadata.Index {
		return raft.ErrSnapOutOfDate
	}
	s.snapshot = cloneSnapshot(snap)
	s.confState = snap.Metadata.ConfState
	newOffset := snap.Metadata.Index + 1
	if len(s.entries) > 0 {
		if snap.Metadata.Index >= s.entries[len(s.entries)-1].Index {
			s.entries = nil
		} else if newOffset > s.entryOffset {
			cut := newOffset - s.entryOffset
			if cut >= uint64(len(s.entries)) {
				s.entries = nil
			} else {
				s.entries = cloneEntries(s.entries[cut:])
			}
		}
	}
	s.entryOffset = newOffset
	return s.persistLocked()
}

// CreateSnapshot records a snapshot at index with the given state payload.
func (s *Storage) CreateSnapshot(index uint64, data []byte, cs *raftpb.ConfState) (*raftpb.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < s.snapshot.Metadata.Index {
		return nil, raft.ErrSnapOutOfDate
	}
	if index > s.lastIndexLocked() {
		return nil, raft.ErrUnavailable
	}
	term, err := s.termAtLocked(index)
	if err != nil {
		return nil, err
	}
	conf := proto.Clone(&s.confState).(*raftpb.ConfState)
	if cs != nil {
		conf = proto.Clone(cs).(*raftpb.ConfState)
	}
	snap := raftpb.Snapshot{
		Data: append([]byte(nil), data...),
		Metadata: raftpb.SnapshotMetadata{
			Index:     index,
			Term:      term,
			ConfState: *conf,
		},
	}
	s.snapshot = cloneSnapshot(snap)
	s.confState = *conf
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Compact drops entries up to and including index.
func (s *Storage) Compact(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < s.firstIndexLocked()-1 {
		return raft.ErrCompacted
	}
	if index >= s.lastIndexLocked() {
		s.entries = nil
		s.entryOffset = index + 1
		return s.persistLocked()
	}
	offset := index + 1 - s.entryOffset
	if offset > uint64(len(s.entries)) {
		return raft.ErrUnavailable
	}
	s.entries = cloneEntries(s.entries[offset:])
	s.entryOffset = index + 1
	return s.persistLocked()
}

// Append adds newly received entries, truncating any conflicting suffix.
func (s *Storage) Append(ents []raftpb.Entry) error {
	if len(ents) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	firstIndex := s.firstIndexLocked()
	if ents[len(ents)-1].Index < firstIndex {
		return nil
	}
	if ents[0].Index < firstIndex {
		ents = cloneEntries(ents[firstIndex-ents[0].Index:])
	}

	if len(s.entries) == 0 {
		s.entryOffset = ents[0].Index
		s.entries = cloneEntries(ents)
		return s.persistLocked()
	}

	offset := ents[0].Index - s.entryOffset
	switch {
	case offset == uint64(len(s.entries)):
		s.entries = append(s.entries, cloneEntries(ents)...)
	case offset < uint64(len(s.entries)):
		s.entries = append(append([]raftpb.Entry{}, s.entries[:offset]...), cloneEntries(ents)...)
	default:
		return fmt.Errorf("consensus: gap detected appending entries")
	}
	return s.persistLocked()
}

func (s *Storage) termAtLocked(i uint64) (uint64, error) {
	if snapIndex := s.snapshot.Metadata.Index; i == snapIndex {
		return s.snapshot.Metadata.Term, nil
	} else if i < snapIndex {
		return 0, raft.ErrCompacted
	}
	if len(s.entries) == 0 {
		return 0, raft.ErrUnavailable
	}
	if i < s.entryOffset {
		return 0, raft.ErrCompacted
	}
	idx := i - s.entryOffset
	if idx >= uint64(len(s.entries)) {
		return 0, raft.ErrUnavailable
	}
	return s.entries[idx].Term, nil
}

func (s *Storage) firstIndexLocked() uint64 {
	if s.snapshot.Metadata.Index != 0 {
		return s.snapshot.Metadata.Index + 1
	}
	if len(s.entries) > 0 {
		return s.entryOffset
	}
	return 1
}

func (s *Storage) lastIndexLocked() uint64 {
	if len(s.entries) > 0 {
		return s.entries[len(s.entries)-1].Index
	}
	return s.snapshot.Metadata.Index
}

// persistLocked rewrites the state file: entry offset, hard state, conf
// state, snapshot, then the entries, all length-prefixed protobuf.
func (s *Storage) persistLocked() error {
	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeUint64(f, s.entryOffset); err != nil {
		return err
	}
	for _, msg := range []proto.Message{&s.hardState, &s.confState, &s.snapshot} {
		if err := writeMessage(f, msg); err != nil {
			return err
		}
	}
	if err := writeUint64(f, uint64(len(s.entries))); err != nil {
		return err
	}
	for i := range s.entries {
		if err := writeMessage(f, &s.entries[i]); err != nil {
			return err
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *Storage) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	if s.entryOffset, err = readUint64(f); err != nil {
		return err
	}
	for _, msg := range []proto.Message{&s.hardState, &s.confState, &s.snapshot} {
		if err := readMessage(f, msg); err != nil {
			return err
		}
	}
	count, err := readUint64(f)
	if err != nil {
		return err
	}
	s.entries = make([]raftpb.Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		var entry raftpb.Entry
		if err := readMessage(f, &entry); err != nil {
			return err
		}
		s.entries = append(s.entries, entry)
	}
	return nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func writeMessage(w io.Writer, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	if err := writeUint64(w, uint64(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readMessage(r io.Reader, msg proto.Message) error {
	size, err := readUint64(r)
	if err != nil {
		return err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}

func cloneEntries(entries []raftpb.Entry) []raftpb.Entry {
	if len(entries) == 0 {
		return nil
	}
	cp := make([]raftpb.Entry, len(entries))
	for i := range entries {
		cp[i] = entries[i]
		if entries[i].Data != nil {
			cp[i].Data = append([]byte(nil), entries[i].Data...)
		}
	}
	return cp
}

func limitSize(entries []raftpb.Entry, maxSize uint64) []raftpb.Entry {
	var size uint64
	for i, e := range entries {
		size += uint64(e.Size())
		if size > maxSize {
			return entries[:i]
		}
	}
	return entries
}

func cloneSnapshot(snap raftpb.Snapshot) raftpb.Snapshot {
	cp := snap
	if snap.Data != nil {
		cp.Data = append([]byte(nil), snap.Data...)
	}
	return cp
}
