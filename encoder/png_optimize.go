package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// recompressIDAT merges all IDAT chunks and deflates them again at the
// highest level. Every other chunk is copied unchanged.
func recompressIDAT(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.New("not a png stream")
	}

	type chunk struct {
		typ  string
		body []byte
	}
	var chunks []chunk
	var idat bytes.Buffer
	idatAt := -1

	rest := data[len(pngSignature):]
	for len(rest) >= 12 {
		n := binary.BigEndian.Uint32(rest[:4])
		if uint64(n)+12 > uint64(len(rest)) {
			return nil, errors.New("truncated png chunk")
		}
		typ := string(rest[4:8])
		body := rest[8 : 8+n]
		if typ == "IDAT" {
			if idatAt < 0 {
				idatAt = len(chunks)
				chunks = append(chunks, chunk{typ: typ})
			}
			idat.Write(body)
		} else {
			chunks = append(chunks, chunk{typ: typ, body: body})
		}
		rest = rest[12+n:]
	}
	if idatAt < 0 {
		return nil, errors.New("png has no image data")
	}

	zr, err := zlib.NewReader(&idat)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, err
	}

	var packed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&packed, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	chunks[idatAt].body = packed.Bytes()

	var out bytes.Buffer
	out.Write(pngSignature)
	for _, c := range chunks {
		writeChunk(&out, c.typ, c.body)
	}
	return out.Bytes(), nil
}

func writeChunk(w *bytes.Buffer, typ string, body []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(body)))
	copy(hdr[4:], typ)
	w.Write(hdr[:])
	w.Write(body)
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(body)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}
