package rest

import (
	"github.com/gorilla/schema"
)

// qsEncoder turns a tagged struct into a flat string map suitable for
// Request.Query, using a package-level gorilla/schema encoder the same
// way Discord libraries commonly turn typed query structs into query
// strings.
var qsEncoder = schema.NewEncoder()

func init() {
	qsEncoder.SetAliasTag("url")
}

// EncodeQuery encodes v (a struct whose fields carry `url:"..."` tags)
// into a Request.Query map. Used for list endpoints with typed query
// parameters (limit, after, before, and similar pagination cursors).
func EncodeQuery(v any) (map[string]string, error) {
	dst := map[string][]string{}
	if err := qsEncoder.Encode(v, dst); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(dst))

	for k, vals := range dst {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}

	return out, nil
}
