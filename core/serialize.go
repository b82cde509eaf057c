package core

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// SerializationHeader prefixes an encoded KernelContextAttributes.
type SerializationHeader struct {
	Magic    uint32 // "KCTX" magic number
	Version  uint16 // format version
	Reserved uint16 // padding for future use
	Length   uint32 // length of the body in bytes
	Checksum uint32 // IEEE CRC32 of the body
}

const (
	SerializationMagic   = 0x5854434B // "KCTX" in little endian
	SerializationVersion = 1
	HeaderSize           = 16 // sizeof(SerializationHeader)
)

// EncodeAttributes writes attrs in a fixed little-endian binary form.
// Two equal layouts always encode to identical bytes.
//
// Body: [ArgsBytes u32][RetsBytes u32][ExtraBytes u32][nargs u32]{arg}*[nrets u32]{ret}*
// arg:  [DType u32][IsArray u8][Offset u32][Stride u32][FieldDim u32][ndim u32][dims u32*]
// ret:  [DType u32][IsArray u8][Offset u32][Stride u32][ndim u32][dims u32*]
func EncodeAttributes(attrs *KernelContextAttributes) ([]byte, error) {
	body := &bytes.Buffer{}
	w := func(v any) {
		// bytes.Buffer writes never fail
		_ = binary.Write(body, binary.LittleEndian, v)
	}

	w(uint32(attrs.ArgsBytes))
	w(uint32(attrs.RetsBytes))
	w(uint32(attrs.ExtraBytes))
	w(uint32(len(attrs.Args)))
	for _, a := range attrs.Args {
		w(uint32(a.DType))
		w(boolByte(a.IsArray))
		w(uint32(a.Offset))
		w(uint32(a.Stride))
		w(uint32(a.FieldDim))
		writeShape(w, a.ElementShape)
	}
	w(uint32(len(attrs.Rets)))
	for _, r := range attrs.Rets {
		w(uint32(r.DType))
		w(boolByte(r.IsArray))
		w(uint32(r.Offset))
		w(uint32(r.Stride))
		writeShape(w, r.ElementShape)
	}

	header := SerializationHeader{
		Magic:    SerializationMagic,
		Version:  SerializationVersion,
		Length:   uint32(body.Len()),
		Checksum: crc32.ChecksumIEEE(body.Bytes()),
	}

	out := bytes.NewBuffer(make([]byte, 0, HeaderSize+body.Len()))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// DecodeAttributes reads a layout written by EncodeAttributes.
func DecodeAttributes(data []byte) (*KernelContextAttributes, error) {
	if len(data) < HeaderSize {
		return nil, errors.New("data too short for header")
	}

	buf := bytes.NewReader(data)
	var header SerializationHeader
	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != SerializationMagic {
		return nil, errors.New("invalid magic number")
	}
	if header.Version != SerializationVersion {
		return nil, errors.New("unsupported version")
	}
	body := data[HeaderSize:]
	if uint32(len(body)) != header.Length {
		return nil, errors.New("body length mismatch")
	}
	if crc32.ChecksumIEEE(body) != header.Checksum {
		return nil, errors.New("checksum mismatch")
	}

	r := &reader{r: bytes.NewReader(body)}
	attrs := &KernelContextAttributes{
		ArgsBytes:  int(r.u32()),
		RetsBytes:  int(r.u32()),
		ExtraBytes: int(r.u32()),
	}
	nargs := r.u32()
	if r.err == nil && nargs > uint32(len(body)) {
		return nil, errors.New("corrupt arg count")
	}
	attrs.Args = make([]ArgAttributes, 0, nargs)
	for i := uint32(0); i < nargs && r.err == nil; i++ {
		a := ArgAttributes{Index: int(i)}
		a.DType = DataType(r.u32())
		a.IsArray = r.u8() != 0
		a.Offset = int(r.u32())
		a.Stride = int(r.u32())
		a.FieldDim = int(r.u32())
		a.ElementShape = r.shape()
		attrs.Args = append(attrs.Args, a)
	}
	nrets := r.u32()
	if r.err == nil && nrets > uint32(len(body)) {
		return nil, errors.New("corrupt ret count")
	}
	attrs.Rets = make([]RetAttributes, 0, nrets)
	for i := uint32(0); i < nrets && r.err == nil; i++ {
		ra := RetAttributes{Index: int(i)}
		ra.DType = DataType(r.u32())
		ra.IsArray = r.u8() != 0
		ra.Offset = int(r.u32())
		ra.Stride = int(r.u32())
		ra.ElementShape = r.shape()
		attrs.Rets = append(attrs.Rets, ra)
	}
	if r.err != nil {
		return nil, r.err
	}
	return attrs, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func writeShape(w func(any), shape []int) {
	w(uint32(len(shape)))
	for _, d := range shape {
		w(uint32(d))
	}
}

// reader keeps the first error so the decode loop stays flat.
type reader struct {
	r   *bytes.Reader
	err error
}

func (r *reader) u32() uint32 {
	var v uint32
	if r.err == nil {
		r.err = binary.Read(r.r, binary.LittleEndian, &v)
	}
	return v
}

func (r *reader) u8() uint8 {
	var v uint8
	if r.err == nil {
		r.err = binary.Read(r.r, binary.LittleEndian, &v)
	}
	return v
}

func (r *reader) shape() []int {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	if n > MaxNumIndices {
		r.err = errors.New("corrupt shape rank")
		return nil
	}
	shape := make([]int, n)
	for i := range shape {
		shape[i] = int(r.u32())
	}
	return shape
}
