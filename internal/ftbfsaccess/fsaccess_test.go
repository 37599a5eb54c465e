package ftbfsaccess

import "testing"

var (
	_ FSAccess = (*Full)(nil)
	_ FSAccess = (*Compare)(nil)
	_ FSAccess = (*Null)(nil)
)

func TestNullReturnsNotImplemented(t *testing.T) {
	fa := NewNull()
	if err := fa.Mkdir("/tmp/x", 0755); err != ErrNotImplemented {
		t.Fatalf("Mkdir = %v, want ErrNotImplemented", err)
	}
	if _, err := fa.Creat("/tmp/x", 0644); err != ErrNotImplemented {
		t.Fatalf("Creat = %v, want ErrNotImplemented", err)
	}
}
