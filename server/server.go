// Package server contains the plumbing shared by the HTTP wrappers:
// a route table bound onto goji muxes and a typed JSON payload.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"

	"goji.io"
)

// RouteTable maps goji patterns to the handlers that serve them
type RouteTable map[goji.Pattern]http.HandlerFunc

// Bind adds every route in the table to the mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for ptrn, handler := range rt {
		mux.HandleFunc(ptrn, handler)
	}
}

// Endpoints lists the patterns in the route table as strings
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, fmt.Sprint(k))
	}
	return routes
}

// HTTPer is a type which can yield its route table for binding to a mux
type HTTPer interface {
	RT() RouteTable
}

// FloatT is a struct with a single float, the json key f64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int, the json key int
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a struct with a single bool, the json key bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single string, the json key str
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a single value of a basic type and a tag for which
// field holds it.  It exists to send "one number" replies as JSON
// without a proliferation of one-off structs.
type HumanPayload struct {
	// T is the type of the payload
	T types.BasicKind

	// Bool holds a bool if T == types.Bool
	Bool bool

	// Int holds an int if T == types.Int
	Int int

	// Float holds a float if T == types.Float64
	Float float64

	// String holds a string if T == types.String
	String string
}

// EncodeAndRespond writes the payload to w as JSON, with the key
// matching the FloatT/IntT/BoolT/StrT decode types
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		http.Error(w, "unknown payload type", http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Printf("error encoding payload to json %q", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
