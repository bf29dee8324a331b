package keys

import (
	"errors"
	"testing"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

const jobID = "3f1c2a9e-8d4b-4c6f-9a1e-2b7d5e0f6a13"

func TestKeyRoundTrip(t *testing.T) {
	c := NewCodec("")

	orig, err := c.OriginalKey(jobID, "receipt.png")
	if err != nil {
		t.Fatalf("OriginalKey() error = %v", err)
	}
	if want := "original-images/" + jobID + "-receipt.png"; orig != want {
		t.Fatalf("OriginalKey() = %q, want %q", orig, want)
	}
	if got, want := c.DerivedKey(jobID), "preprocessed-images/"+jobID+"-preprocessed.png"; got != want {
		t.Fatalf("DerivedKey() = %q, want %q", got, want)
	}

	ref, err := c.ParseOriginalKey(orig)
	if err != nil {
		t.Fatalf("ParseOriginalKey() error = %v", err)
	}
	if ref.JobID != jobID || ref.Filename != "receipt.png" {
		t.Fatalf("ParseOriginalKey() = %+v", ref)
	}
}

func TestFilenameWithHyphensAndPaths(t *testing.T) {
	c := NewCodec("preprocessed-images/")
	orig, err := c.OriginalKey(jobID, `C:\scans\my-receipt-2024.jpg`)
	if err != nil {
		t.Fatalf("OriginalKey() error = %v", err)
	}
	ref, err := c.ParseOriginalKey(orig)
	if err != nil {
		t.Fatalf("ParseOriginalKey() error = %v", err)
	}
	if ref.Filename != "my-receipt-2024.jpg" {
		t.Fatalf("unexpected filename: %q", ref.Filename)
	}
}

func TestCustomDerivedPrefix(t *testing.T) {
	c := NewCodec("derived")
	if got, want := c.DerivedKey(jobID), "derived/"+jobID+"-preprocessed.png"; got != want {
		t.Fatalf("DerivedKey() = %q, want %q", got, want)
	}
}

func TestOriginalKeyRejectsEmptyFilename(t *testing.T) {
	c := NewCodec("")
	for _, name := range []string{"", "   ", "/", "dir/.."} {
		if _, err := c.OriginalKey(jobID, name); !errors.Is(err, common.ErrValidation) {
			t.Errorf("OriginalKey(%q) error = %v, want validation error", name, err)
		}
	}
}

func TestParseOriginalKeyMalformed(t *testing.T) {
	c := NewCodec("")
	cases := map[string]string{
		"wrong prefix":     "uploads/" + jobID + "-a.png",
		"no filename":      "original-images/" + jobID + "-",
		"short id":         "original-images/3f1c2a9e-a.png",
		"not a uuid":       "original-images/zzzzzzzz-8d4b-4c6f-9a1e-2b7d5e0f6a13-a.png",
		"upper case uuid":  "original-images/3F1C2A9E-8D4B-4C6F-9A1E-2B7D5E0F6A13-a.png",
		"missing dash":     "original-images/" + jobID + "_a.png",
		"nested filename":  "original-images/" + jobID + "-x/a.png",
		"raw key fallback": "receipt.png",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := c.ParseOriginalKey(key); !errors.Is(err, common.ErrMalformedTriggerKey) {
				t.Fatalf("ParseOriginalKey(%q) error = %v, want ErrMalformedTriggerKey", key, err)
			}
		})
	}
}
