package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// File layout, little endian:
//
//	0..7    magic "RAGVEC01"
//	8..15   dim (uint64)
//	16..23  count (uint64)
//	        count x slot (int64)
//	        count x dim x float32
//	        crc32 IEEE of all preceding bytes (uint32)
const headerSize = 24

var fileMagic = [8]byte{'R', 'A', 'G', 'V', 'E', 'C', '0', '1'}

// Persist writes the index to path atomically: a temp file in the same
// directory is synced and renamed over path.
func (x *Index) Persist(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = x.encode(tmp); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

func (x *Index) encode(w io.Writer) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, crc))

	var hdr [headerSize]byte
	copy(hdr[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(x.dim))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(len(x.slots)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err //nolint:wrapcheck // wrapped by Persist
	}

	var buf [8]byte
	for _, s := range x.slots {
		binary.LittleEndian.PutUint64(buf[:], uint64(s))
		if _, err := bw.Write(buf[:]); err != nil {
			return err //nolint:wrapcheck // wrapped by Persist
		}
	}
	for _, f := range x.data {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
		if _, err := bw.Write(buf[:4]); err != nil {
			return err //nolint:wrapcheck // wrapped by Persist
		}
	}
	if err := bw.Flush(); err != nil {
		return err //nolint:wrapcheck // wrapped by Persist
	}

	binary.LittleEndian.PutUint32(buf[:4], crc.Sum32())
	_, err := w.Write(buf[:4])
	return err //nolint:wrapcheck // wrapped by Persist
}

// Open reads an index written by Persist.
func Open(path string) (*Index, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	idx, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w: %w", path, domain.ErrIndexCorrupt, err)
	}
	return idx, nil
}

// OpenOrEmpty opens path, or returns an empty index of dim when the file does not exist.
// The boolean reports whether a file was read.
func OpenOrEmpty(path string, dim int) (*Index, bool, error) {
	idx, err := Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(dim), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return idx, true, nil
}

func decode(raw []byte) (*Index, error) {
	if len(raw) < headerSize+4 {
		return nil, fmt.Errorf("file too small: %d bytes", len(raw))
	}
	if [8]byte(raw[:8]) != fileMagic {
		return nil, errors.New("magic mismatch")
	}
	body, trailer := raw[:len(raw)-4], raw[len(raw)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, errors.New("checksum mismatch")
	}

	dim := binary.LittleEndian.Uint64(raw[8:16])
	count := binary.LittleEndian.Uint64(raw[16:24])
	if dim == 0 || dim > math.MaxInt32 {
		return nil, fmt.Errorf("invalid dim %d", dim)
	}
	want := uint64(headerSize) + count*8 + count*dim*4
	if count > uint64(len(body)) || want != uint64(len(body)) {
		return nil, fmt.Errorf("size %d does not match dim=%d count=%d", len(body), dim, count)
	}

	idx := &Index{
		dim:   int(dim),
		slots: make([]int64, count),
		data:  make([]float32, count*dim),
	}
	off := headerSize
	for i := range idx.slots {
		idx.slots[i] = int64(binary.LittleEndian.Uint64(raw[off:]))
		off += 8
	}
	for i := range idx.data {
		idx.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
	}
	return idx, nil
}
