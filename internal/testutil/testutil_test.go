package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestServe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.RemoteAddr != LoopbackAddr {
			t.Errorf("RemoteAddr = %q, want %q", r.RemoteAddr, LoopbackAddr)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"method":"` + r.Method + `","body":` + string(body) + `}`))
	})

	rec := Serve(t, h, http.MethodPost, "/x", `{"a":1}`)
	AssertStatusCode(t, rec, http.StatusCreated)

	got := DecodeJSON[struct {
		Method string         `json:"method"`
		Body   map[string]int `json:"body"`
	}](t, rec)
	if got.Method != http.MethodPost {
		t.Errorf("method = %q, want POST", got.Method)
	}
	if got.Body["a"] != 1 {
		t.Errorf("body = %v, want a=1", got.Body)
	}
}
