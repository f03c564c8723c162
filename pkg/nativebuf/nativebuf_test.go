package nativebuf

import (
	"errors"
	"testing"
	"unsafe"
)

type testVertex struct {
	Position [3]float32
	Normal   [3]float32
}

func mustPanic(t *testing.T, name string, fn func()) any {
	t.Helper()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	if recovered == nil {
		t.Fatalf("%s: expected panic", name)
	}
	return recovered
}

func TestAlloc(t *testing.T) {
	buf, err := Alloc(13)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if buf.Size() != 13 {
		t.Errorf("expected size 13, got %d", buf.Size())
	}
	if len(buf.Bytes()) != 13 {
		t.Errorf("expected 13 bytes, got %d", len(buf.Bytes()))
	}
	if uintptr(unsafe.Pointer(&buf.Bytes()[0]))%8 != 0 {
		t.Error("allocation is not 8-byte aligned")
	}

	if _, err := Alloc(-1); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
	if _, err := Alloc(MaxAllocSize + 1); !errors.Is(err, ErrAllocTooLarge) {
		t.Errorf("expected ErrAllocTooLarge, got %v", err)
	}
	if _, err := AllocElems[testVertex](MaxAllocSize); !errors.Is(err, ErrAllocTooLarge) {
		t.Errorf("expected ErrAllocTooLarge for element overflow, got %v", err)
	}
}

func TestViewReadWrite(t *testing.T) {
	buf, err := AllocElems[uint32](8)
	if err != nil {
		t.Fatalf("AllocElems: %v", err)
	}
	v := ViewOf[uint32](buf)
	if v.Len() != 8 {
		t.Fatalf("expected 8 elements, got %d", v.Len())
	}
	for i := range v.Len() {
		v.Set(i, uint32(i*i))
	}
	for i := range v.Len() {
		if got := v.At(i); got != uint32(i*i) {
			t.Errorf("At(%d) = %d, want %d", i, got, i*i)
		}
	}

	sub := v.Slice(2, 5)
	if sub.Len() != 3 || sub.At(0) != 4 || sub.At(2) != 16 {
		t.Errorf("unexpected slice contents: len=%d first=%d last=%d", sub.Len(), sub.At(0), sub.At(2))
	}

	out := make([]uint32, 3)
	if n := sub.CopyTo(out); n != 3 || out[1] != 9 {
		t.Errorf("CopyTo = %d %v", n, out)
	}
}

func TestViewBoundsChecked(t *testing.T) {
	buf, _ := AllocElems[uint16](4)
	v := ViewOf[uint16](buf)

	for _, idx := range []int{-1, 4, 100} {
		r := mustPanic(t, "At", func() { v.At(idx) })
		oor, ok := r.(IndexOutOfRangeError)
		if !ok {
			t.Fatalf("expected IndexOutOfRangeError, got %T", r)
		}
		if oor.Index != idx || oor.Len != 4 {
			t.Errorf("unexpected error payload %+v", oor)
		}
	}
	mustPanic(t, "Set", func() { v.Set(4, 1) })
	mustPanic(t, "NewView overflow", func() { NewView[uint32](buf, 4, 4, 2) })
	mustPanic(t, "stride too small", func() { NewView[uint32](buf, 0, 2, 1) })
}

func TestFieldProjection(t *testing.T) {
	buf, err := AllocElems[testVertex](3)
	if err != nil {
		t.Fatalf("AllocElems: %v", err)
	}
	verts := ViewOf[testVertex](buf)
	for i := range verts.Len() {
		f := float32(i)
		verts.Set(i, testVertex{
			Position: [3]float32{f, f + 1, f + 2},
			Normal:   [3]float32{0, 1, 0},
		})
	}

	normals := Field[testVertex, [3]float32](verts, unsafe.Offsetof(testVertex{}.Normal))
	if normals.Len() != 3 {
		t.Fatalf("expected 3 normals, got %d", normals.Len())
	}
	if normals.Stride() != unsafe.Sizeof(testVertex{}) {
		t.Errorf("projection should keep stride %d, got %d", unsafe.Sizeof(testVertex{}), normals.Stride())
	}

	// Writes through the projection land in the interleaved record.
	normals.Set(1, [3]float32{1, 0, 0})
	if got := verts.At(1).Normal; got != [3]float32{1, 0, 0} {
		t.Errorf("projected write not visible in record: %v", got)
	}
	if got := verts.At(1).Position; got != [3]float32{1, 2, 3} {
		t.Errorf("projected write clobbered position: %v", got)
	}

	heights := Field[testVertex, float32](verts, unsafe.Offsetof(testVertex{}.Position)+4)
	if heights.At(2) != 3 {
		t.Errorf("expected projected y=3, got %v", heights.At(2))
	}

	mustPanic(t, "field past stride", func() {
		Field[testVertex, [4]float32](verts, unsafe.Offsetof(testVertex{}.Normal))
	})
}

func TestWriter(t *testing.T) {
	buf, _ := AllocElems[int32](4)
	w := NewWriter(ViewOf[int32](buf))

	if w.EOF() || w.Remaining() != 4 || w.Position() != 0 {
		t.Fatalf("fresh writer state wrong: eof=%v remaining=%d pos=%d", w.EOF(), w.Remaining(), w.Position())
	}

	w.Write(7)
	w.WriteAll([]int32{8, 9})
	if w.Position() != 3 || w.Remaining() != 1 {
		t.Errorf("expected pos 3 remaining 1, got %d %d", w.Position(), w.Remaining())
	}
	if got := w.Written(); got.Len() != 3 || got.At(2) != 9 {
		t.Errorf("Written() = len %d", got.Len())
	}

	mustPanic(t, "bulk overflow", func() { w.WriteAll([]int32{1, 2}) })

	w.Write(10)
	if !w.EOF() {
		t.Error("expected EOF after filling")
	}
	mustPanic(t, "write past end", func() { w.Write(11) })

	w.Rewind()
	if w.Position() != 0 || w.EOF() {
		t.Error("rewind did not reset cursor")
	}
	if w.View().At(0) != 7 {
		t.Error("rewind should keep contents")
	}
}
