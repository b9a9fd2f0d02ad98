package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestFromRequestDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders", nil)

	params, err := FromRequest(r, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token, got %q", params.PageToken)
	}
}

func TestFromRequestClampsPageSize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		opts Options
		want int
	}{
		{name: "within range", raw: "25", opts: Options{DefaultPageSize: 20, MaxPageSize: 50}, want: 25},
		{name: "zero falls back", raw: "0", opts: Options{DefaultPageSize: 20, MaxPageSize: 50}, want: 20},
		{name: "negative falls back", raw: "-3", opts: Options{DefaultPageSize: 20, MaxPageSize: 50}, want: 20},
		{name: "over max clamps", raw: "500", opts: Options{DefaultPageSize: 20, MaxPageSize: 50}, want: 50},
		{name: "default above max clamps", raw: "", opts: Options{DefaultPageSize: 200, MaxPageSize: 50}, want: 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/orders?page_size="+tc.raw, nil)
			params, err := FromRequest(r, tc.opts)
			if err != nil {
				t.Fatalf("FromRequest returned error: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestFromRequestRejectsNonIntegerPageSize(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders?page_size=lots", nil)

	_, err := FromRequest(r, Options{})
	if !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestFromRequestRejectsMalformedToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders?page_token=%21%21", nil)

	_, err := FromRequest(r, Options{})
	if !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2024-05-20T09:30:00Z", "ord_123"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	createdAt, ok := cursor.StringAt(0)
	if !ok || createdAt != "2024-05-20T09:30:00Z" {
		t.Fatalf("unexpected first cursor value: %q ok=%v", createdAt, ok)
	}
	id, ok := cursor.StringAt(1)
	if !ok || id != "ord_123" {
		t.Fatalf("unexpected second cursor value: %q ok=%v", id, ok)
	}
}

func TestTokenRoundTripNumeric(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{int64(7), "TWB001"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	available, ok := cursor.IntAt(0)
	if !ok || available != 7 {
		t.Fatalf("unexpected numeric cursor value: %d ok=%v", available, ok)
	}
	sku, ok := cursor.StringAt(1)
	if !ok || sku != "TWB001" {
		t.Fatalf("unexpected sku cursor value: %q ok=%v", sku, ok)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("not-base64!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
