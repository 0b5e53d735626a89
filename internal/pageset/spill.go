// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package pageset

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// DefaultSpillThreshold is the number of in-memory entries above which a
// new PageSet backs itself with a disk-spilling store instead of
// memStore.
const DefaultSpillThreshold = 200_000

type spillRecord struct {
	offset int64
	length int64
}

// spillStore keeps hot (recently written) entries in an overlay map and
// cold entries compressed, one independent zstd frame per record, in a
// temp file; this keeps random-access reads cheap without needing a
// seekable streaming decompressor. Iteration stays insertion-ordered via
// the same order slice approach as memStore.
type spillStore struct {
	file    *os.File
	index   map[Title]spillRecord
	overlay map[Title]*PageEntry
	order   []Title

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	spilledBytes int64
}

func newSpillStore() (*spillStore, error) {
	f, err := os.CreateTemp("", "pageset-spill-*.bin")
	if err != nil {
		return nil, fmt.Errorf("pageset: creating spill file: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &spillStore{
		file:    f,
		index:   make(map[Title]spillRecord),
		overlay: make(map[Title]*PageEntry),
		encoder: enc,
		decoder: dec,
	}, nil
}

// fromMemStore adopts the contents of an in-memory store, keeping them in
// the overlay (they are only actually written to disk as spillOldest
// trims the overlay down — see maybeSpillLocked in pageset.go).
func fromMemStore(m *memStore) *spillStore {
	s, err := newSpillStore()
	if err != nil {
		// Disk spill is a performance optimization; if we cannot create a
		// temp file, degrade to keeping everything in the overlay forever.
		s = &spillStore{index: make(map[Title]spillRecord), overlay: make(map[Title]*PageEntry)}
	}
	m.each(func(e *PageEntry) bool {
		s.overlay[e.Title] = e
		s.order = append(s.order, e.Title)
		return true
	})
	return s
}

func (s *spillStore) get(t Title) (*PageEntry, bool) {
	if e, ok := s.overlay[t]; ok {
		return e, true
	}
	rec, ok := s.index[t]
	if !ok {
		return nil, false
	}
	e, err := s.readAt(rec)
	if err != nil {
		return nil, false
	}
	return e, true
}

func (s *spillStore) put(e *PageEntry) {
	if existing, ok := s.overlay[e.Title]; ok {
		existing.merge(e)
		return
	}
	if rec, ok := s.index[e.Title]; ok {
		if onDisk, err := s.readAt(rec); err == nil {
			onDisk.merge(e)
			s.overlay[e.Title] = onDisk
			delete(s.index, e.Title)
			return
		}
	}
	s.overlay[e.Title] = e
	s.order = append(s.order, e.Title)
}

func (s *spillStore) delete(t Title) {
	delete(s.overlay, t)
	delete(s.index, t)
	for i, k := range s.order {
		if k == t {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *spillStore) len() int { return len(s.overlay) + len(s.index) }

func (s *spillStore) clear() {
	s.overlay = make(map[Title]*PageEntry)
	s.index = make(map[Title]spillRecord)
	s.order = nil
}

func (s *spillStore) each(fn func(*PageEntry) bool) {
	for _, t := range s.order {
		e, ok := s.get(t)
		if !ok {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// spillOldest moves up to n entries from the overlay to disk, keeping the
// process's memory footprint bounded while leaving the most recently
// touched entries hot.
func (s *spillStore) spillOldest(n int) error {
	if s.file == nil {
		return nil // degraded mode: no temp file available
	}
	moved := 0
	for _, t := range s.order {
		if moved >= n {
			break
		}
		e, ok := s.overlay[t]
		if !ok {
			continue
		}
		rec, err := s.writeRecord(e)
		if err != nil {
			return err
		}
		s.index[t] = rec
		delete(s.overlay, t)
		moved++
	}
	return nil
}

func (s *spillStore) writeRecord(e *PageEntry) (spillRecord, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return spillRecord{}, fmt.Errorf("pageset: encoding spilled entry: %w", err)
	}
	compressed := s.encoder.EncodeAll(buf.Bytes(), nil)

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return spillRecord{}, err
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(compressed)))
	if _, err := s.file.Write(lenBuf[:]); err != nil {
		return spillRecord{}, err
	}
	if _, err := s.file.Write(compressed); err != nil {
		return spillRecord{}, err
	}
	s.spilledBytes += int64(len(compressed))
	return spillRecord{offset: offset, length: int64(len(compressed))}, nil
}

func (s *spillStore) readAt(rec spillRecord) (*PageEntry, error) {
	compressed := make([]byte, rec.length)
	if _, err := s.file.ReadAt(compressed, rec.offset+8); err != nil {
		return nil, err
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, err
	}
	var e PageEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// close releases the temp file backing the spill store. Safe to call more
// than once.
func (s *spillStore) close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	os.Remove(name)
	s.file = nil
	return err
}

// humanSize formats a byte count for spill log lines; nothing in the
// module calls it.
func humanSize(n int64) string {
	return humanize.Bytes(uint64(n))
}
