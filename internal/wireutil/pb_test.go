package wireutil

import "testing"

func TestVarintFieldRoundTrip(t *testing.T) {
	buf := AppendVarintField(nil, 1, 42)
	buf = AppendVarintField(buf, 2, 1<<40)

	d := NewDecoder(buf)
	field, wt, err := d.NextTag()
	if err != nil || field != 1 || wt != WireVarint {
		t.Fatalf("unexpected first tag: field=%d wt=%d err=%v", field, wt, err)
	}
	v, err := d.ReadVarint()
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d err=%v", v, err)
	}

	field, wt, err = d.NextTag()
	if err != nil || field != 2 || wt != WireVarint {
		t.Fatalf("unexpected second tag: field=%d wt=%d err=%v", field, wt, err)
	}
	v, err = d.ReadVarint()
	if err != nil || v != 1<<40 {
		t.Fatalf("expected 2^40, got %d err=%v", v, err)
	}
	if !d.Done() {
		t.Fatal("expected decoder to be exhausted")
	}
}

func TestBytesFieldRoundTrip(t *testing.T) {
	buf := AppendBytesField(nil, 3, []byte("hello"))
	d := NewDecoder(buf)
	field, wt, err := d.NextTag()
	if err != nil || field != 3 || wt != WireBytes {
		t.Fatalf("unexpected tag: field=%d wt=%d err=%v", field, wt, err)
	}
	b, err := d.ReadBytes()
	if err != nil || string(b) != "hello" {
		t.Fatalf("expected hello, got %q err=%v", b, err)
	}
}

func TestSkipUnknownField(t *testing.T) {
	buf := AppendVarintField(nil, 7, 123)
	buf = AppendBytesField(buf, 1, []byte("kept"))

	d := NewDecoder(buf)
	field, wt, err := d.NextTag()
	if err != nil {
		t.Fatal(err)
	}
	if field == 1 {
		t.Fatal("test setup: expected field 7 first")
	}
	if err := d.SkipField(wt); err != nil {
		t.Fatal(err)
	}
	field, wt, err = d.NextTag()
	if err != nil || field != 1 || wt != WireBytes {
		t.Fatalf("expected field 1 after skip, got field=%d wt=%d err=%v", field, wt, err)
	}
	b, err := d.ReadBytes()
	if err != nil || string(b) != "kept" {
		t.Fatalf("expected kept, got %q err=%v", b, err)
	}
}
