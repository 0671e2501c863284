package archive

import (
	"testing"
)

func headerBlock(name, size string, typeflag byte) []byte {
	b := make([]byte, BlockSize)
	copy(b[0:100], name)
	copy(b[124:136], size)
	b[156] = typeflag
	return b
}

func TestReadHeader(t *testing.T) {
	buf := headerBlock("pixlet", "00000001750\x00", TypeRegular)

	entry, end, err := readHeader(buf, 0)
	if err != nil {
		t.Fatalf("readHeader failed: %v", err)
	}
	if end {
		t.Fatal("unexpected end of archive")
	}
	if entry.Name != "pixlet" || entry.Size != 1000 || entry.Type != TypeRegular {
		t.Errorf("entry = %+v", entry)
	}
}

func TestReadHeader_SizeTrimming(t *testing.T) {
	tests := []struct {
		field string
		want  int64
	}{
		{"00000000012\x00", 10},
		{"         12 ", 10},
		{"12\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", 10},
		{"", 0},
	}

	for _, tt := range tests {
		entry, _, err := readHeader(headerBlock("f", tt.field, TypeRegular), 0)
		if err != nil {
			t.Errorf("field %q: %v", tt.field, err)
			continue
		}
		if entry.Size != tt.want {
			t.Errorf("field %q: size = %d, want %d", tt.field, entry.Size, tt.want)
		}
	}
}

func TestReadHeader_InvalidSize(t *testing.T) {
	if _, _, err := readHeader(headerBlock("pixlet", "0000000009z\x00", TypeRegular), 0); err == nil {
		t.Error("expected error for non-octal size")
	}
}

func TestReadHeader_ZeroBlockEndsArchive(t *testing.T) {
	buf := make([]byte, 2*BlockSize)
	copy(buf, headerBlock("pixlet", "0", TypeRegular))

	_, end, err := readHeader(buf, BlockSize)
	if err != nil || !end {
		t.Errorf("end = %v, err = %v; want end of archive", end, err)
	}
}

func TestReadHeader_ShortBlock(t *testing.T) {
	if _, _, err := readHeader(make([]byte, 100), 0); err == nil {
		t.Error("expected error for short block")
	}
}

func TestReadHeader_UstarPrefix(t *testing.T) {
	b := headerBlock("pixlet", "1", TypeRegular)
	copy(b[257:263], "ustar\x00")
	copy(b[345:], "pixlet_0.34.0_linux_amd64")

	entry, _, err := readHeader(b, 0)
	if err != nil {
		t.Fatalf("readHeader failed: %v", err)
	}
	if entry.Name != "pixlet_0.34.0_linux_amd64/pixlet" {
		t.Errorf("name = %q", entry.Name)
	}
}

func TestReadHeader_Base256Size(t *testing.T) {
	b := headerBlock("big", "", TypeRegular)
	b[124] = 0x80
	b[135] = 0x02
	b[134] = 0x01

	entry, _, err := readHeader(b, 0)
	if err != nil {
		t.Fatalf("readHeader failed: %v", err)
	}
	if entry.Size != 0x0102 {
		t.Errorf("size = %d, want %d", entry.Size, 0x0102)
	}
}

func TestSkipToBoundary(t *testing.T) {
	tests := []struct {
		off, size, want int64
	}{
		{512, 0, 512},
		{512, 1, 1024},
		{512, 511, 1024},
		{512, 512, 1024},
		{512, 513, 1536},
		{0, 1000, 1024},
	}

	for _, tt := range tests {
		if got := skipToBoundary(tt.off, tt.size); got != tt.want {
			t.Errorf("skipToBoundary(%d, %d) = %d, want %d", tt.off, tt.size, got, tt.want)
		}
	}
}
