package bgsync

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"
)

func makeBenchRequest(bodySize int) *StorableRequest {
	return &StorableRequest{
		URL:    "https://api.example.com/v1/orders?customer=42",
		Method: "POST",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer abcdef0123456789",
			"X-Request-Id":  "req-123",
		},
		Body:        bytes.Repeat([]byte("x"), bodySize),
		Mode:        "cors",
		Credentials: "same-origin",
		Referrer:    "https://app.example.com/checkout",
	}
}

func byteSizeName(n int) string {
	switch {
	case n < 1024:
		return strconv.Itoa(n) + "B"
	case n < 1024*1024:
		return strconv.Itoa(n/1024) + "KB"
	default:
		return strconv.Itoa(n/(1024*1024)) + "MB"
	}
}

var benchSizes = []int{64, 512, 2048, 64 * 1024}

func BenchmarkStorableRequest_Encode(b *testing.B) {
	enc := &JSONEncoder{}
	for _, sz := range benchSizes {
		b.Run(byteSizeName(sz), func(b *testing.B) {
			b.ReportAllocs()
			sr := makeBenchRequest(sz)
			warm, _ := enc.Encode(sr)
			b.SetBytes(int64(len(warm)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := enc.Encode(sr); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkStorableRequest_Decode(b *testing.B) {
	enc := &JSONEncoder{}
	for _, sz := range benchSizes {
		b.Run(byteSizeName(sz), func(b *testing.B) {
			data, _ := enc.Encode(makeBenchRequest(sz))
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				var sr StorableRequest
				if err := enc.Decode(data, &sr); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Baseline using stdlib json directly (useful for relative comparisons)
func BenchmarkStdlibJSON_Decode_2KB(b *testing.B) {
	data, _ := json.Marshal(makeBenchRequest(2048))
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var sr StorableRequest
		if err := json.Unmarshal(data, &sr); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFromRequest(b *testing.B) {
	body := bytes.Repeat([]byte("x"), 2048)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := benchHTTPRequest(body)
		if _, err := FromRequest(req); err != nil {
			b.Fatal(err)
		}
	}
}
