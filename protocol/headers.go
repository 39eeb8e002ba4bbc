package protocol

import (
	"sort"
	"strconv"
	"strings"
)

// Well-known header names.
const (
	HeaderAcceptEncoding   = "Accept-Encoding"
	HeaderAllow            = "Allow"
	HeaderCacheControl     = "Cache-Control"
	HeaderConnection       = "Connection"
	HeaderContentEncoding  = "Content-Encoding"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderCookie           = "Cookie"
	HeaderDate             = "Date"
	HeaderETag             = "Etag"
	HeaderHost             = "Host"
	HeaderIfModifiedSince  = "If-Modified-Since"
	HeaderIfNoneMatch      = "If-None-Match"
	HeaderLastModified     = "Last-Modified"
	HeaderLocation         = "Location"
	HeaderServer           = "Server"
	HeaderSetCookie        = "Set-Cookie"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderURI              = "URI"
)

type headerEntry struct {
	name   string // first-seen spelling, used on output
	values []string
}

// Headers is a case-insensitive multimap that remembers insertion order.
// Keys are normalized to upper case once, when they cross the API boundary.
// The zero value is an empty set ready to use.
type Headers struct {
	index   map[string]int
	entries []headerEntry
}

func headerKey(name string) string {
	return strings.ToUpper(name)
}

func (h *Headers) lookup(name string) int {
	if h.index == nil {
		return -1
	}
	if i, ok := h.index[headerKey(name)]; ok {
		return i
	}
	return -1
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int { return len(h.entries) }

// Has reports whether a header with the given name is present.
func (h *Headers) Has(name string) bool { return h.lookup(name) >= 0 }

// Get returns the first value of the named header.
func (h *Headers) Get(name string) (string, bool) {
	i := h.lookup(name)
	if i < 0 {
		return "", false
	}
	return h.entries[i].values[0], true
}

// Values returns all values of the named header, in arrival order. The
// returned slice must not be modified.
func (h *Headers) Values(name string) []string {
	i := h.lookup(name)
	if i < 0 {
		return nil
	}
	return h.entries[i].values
}

// Set replaces the named header with the given values. Setting no values
// deletes the header.
func (h *Headers) Set(name string, values ...string) {
	if len(values) == 0 {
		h.Del(name)
		return
	}
	vs := append([]string(nil), values...)
	if i := h.lookup(name); i >= 0 {
		h.entries[i].values = vs
		return
	}
	h.insert(name, vs)
}

// SetInt sets the named header to the decimal rendering of n.
func (h *Headers) SetInt(name string, n int) {
	h.Set(name, strconv.Itoa(n))
}

// Add appends value to the named header, creating it if needed.
func (h *Headers) Add(name string, value string) {
	if i := h.lookup(name); i >= 0 {
		h.entries[i].values = append(h.entries[i].values, value)
		return
	}
	h.insert(name, []string{value})
}

func (h *Headers) insert(name string, values []string) {
	if h.index == nil {
		h.index = make(map[string]int)
	}
	h.index[headerKey(name)] = len(h.entries)
	h.entries = append(h.entries, headerEntry{name: name, values: values})
}

// Del removes the named header and all its values.
func (h *Headers) Del(name string) {
	i := h.lookup(name)
	if i < 0 {
		return
	}
	delete(h.index, headerKey(name))
	h.entries = append(h.entries[:i], h.entries[i+1:]...)
	for j := i; j < len(h.entries); j++ {
		h.index[headerKey(h.entries[j].name)] = j
	}
}

// Reset removes all headers, keeping allocated storage.
func (h *Headers) Reset() {
	for k := range h.index {
		delete(h.index, k)
	}
	h.entries = h.entries[:0]
}

// Each calls fn for every header name in insertion order.
func (h *Headers) Each(fn func(name string, values []string)) {
	for _, e := range h.entries {
		fn(e.name, e.values)
	}
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() Headers {
	var c Headers
	for _, e := range h.entries {
		c.Set(e.name, e.values...)
	}
	return c
}

// AppendTo renders the headers as wire lines, each terminated by CRLF.
func (h *Headers) AppendTo(dst []byte) []byte {
	for _, e := range h.entries {
		for _, v := range e.values {
			dst = appendHeaderLine(dst, e.name, v)
		}
	}
	return dst
}

func appendHeaderLine(dst []byte, name string, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ':', ' ')
	dst = append(dst, value...)
	return append(dst, '\r', '\n')
}

// QValue is one item of a comma-separated, q-weighted header value such as
// Accept or Accept-Encoding.
type QValue struct {
	Value string
	Q     float64
}

// QList parses every value of the named header as a q-list. See ParseQList.
func (h *Headers) QList(name string) []QValue {
	return ParseQList(strings.Join(h.Values(name), ","))
}

// ParseQList splits a header value on commas; each item may carry a
// ";q=<float>" parameter and defaults to 1.0 without one. Items with a
// malformed q are dropped. The result is sorted by descending q, keeping the
// original order among equal weights.
//
//	qlist = item *( "," item )
//	item  = OWS value *( OWS ";" OWS param ) OWS
//	param = "q=" float / token [ "=" token ]
func ParseQList(value string) []QValue {
	var list []QValue
	for len(value) > 0 {
		var item string
		if i := strings.IndexByte(value, ','); i >= 0 {
			item, value = value[:i], value[i+1:]
		} else {
			item, value = value, ""
		}
		qv, ok := parseQItem(item)
		if ok {
			list = append(list, qv)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Q > list[j].Q })
	return list
}

func parseQItem(item string) (QValue, bool) {
	params := ""
	if i := strings.IndexByte(item, ';'); i >= 0 {
		item, params = item[:i], item[i+1:]
	}
	qv := QValue{Value: strings.TrimSpace(item), Q: 1.0}
	if qv.Value == "" {
		return qv, false
	}
	for len(params) > 0 {
		var param string
		if i := strings.IndexByte(params, ';'); i >= 0 {
			param, params = params[:i], params[i+1:]
		} else {
			param, params = params, ""
		}
		param = strings.TrimSpace(param)
		if len(param) < 2 || (param[0] != 'q' && param[0] != 'Q') || param[1] != '=' {
			continue
		}
		q, err := strconv.ParseFloat(param[2:], 64)
		if err != nil || !(q >= 0 && q <= 1) {
			return qv, false
		}
		qv.Q = q
	}
	return qv, true
}
