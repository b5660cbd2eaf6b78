package client

import (
	"net/http"
	"strings"
)

// Response is a fully read HTTP response.
type Response struct {
	Seq    int64
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte

	ser *Serializer
}

// Location returns the Location header.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// Text returns the body as a string with surrounding whitespace trimmed.
func (r *Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

// JSON decodes the body into v with the client's serializer.
func (r *Response) JSON(v any) error {
	return r.serializer().Unmarshal(r.Body, v)
}

// Tree decodes the body into an untyped JSON value.
func (r *Response) Tree() (any, error) {
	return r.serializer().Tree(r.Body)
}

func (r *Response) serializer() *Serializer {
	if r.ser == nil {
		return NewSerializer()
	}
	return r.ser
}
