package server

import (
	"encoding/json"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"goji.io"
	"goji.io/pat"
)

func TestEncodeAndRespond(t *testing.T) {
	cases := []struct {
		hp   HumanPayload
		body string
	}{
		{HumanPayload{T: types.Float64, Float: 2.5}, `{"f64":2.5}`},
		{HumanPayload{T: types.Int, Int: 15}, `{"int":15}`},
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{HumanPayload{T: types.String, String: "idle"}, `{"str":"idle"}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		c.hp.EncodeAndRespond(w, r)
		if got := strings.TrimSpace(w.Body.String()); got != c.body {
			t.Errorf("payload %+v encoded to %q, want %q", c.hp, got, c.body)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
	}
}

func TestEncodeAndRespondUnknownKind(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	HumanPayload{T: types.Complex128}.EncodeAndRespond(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", w.Code)
	}
}

func TestRouteTableBind(t *testing.T) {
	rt := RouteTable{
		pat.Get("/value"): func(w http.ResponseWriter, r *http.Request) {
			HumanPayload{T: types.Int, Int: 7}.EncodeAndRespond(w, r)
		},
	}
	mux := goji.NewMux()
	rt.Bind(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/value", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body IntT
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Int != 7 {
		t.Errorf("value %d, want 7", body.Int)
	}
	if eps := rt.Endpoints(); len(eps) != 1 {
		t.Errorf("endpoints %v, want one entry", eps)
	}
}
