package s3

import (
	"context"
	"testing"
	"time"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "photo", got: PhotoKey("abc", ".JPG"), want: "profile_photos/abc.jpg"},
		{name: "photo without ext", got: PhotoKey("abc", ""), want: "profile_photos/abc.bin"},
		{name: "archive", got: ArchiveKey(time.Date(2025, 6, 14, 23, 5, 9, 0, time.UTC)), want: "archives/escapade-20250614T230509Z.tar.zst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestEncodeSHA256(t *testing.T) {
	got, err := encodeSHA256("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if err != nil {
		t.Fatalf("encodeSHA256() error = %v", err)
	}
	if got != "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=" {
		t.Fatalf("encodeSHA256() = %q", got)
	}
	if _, err := encodeSHA256(""); err == nil {
		t.Fatalf("encodeSHA256(\"\") succeeded")
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(context.Background(), Options{}); err == nil {
		t.Fatalf("NewClient() without endpoint succeeded")
	}
	if _, err := NewClient(context.Background(), Options{Endpoint: "seaweed:8333"}); err == nil {
		t.Fatalf("NewClient() without credentials succeeded")
	}
}
