package schema

import (
	"github.com/cockroachdb/errors"
	"github.com/danielgtaylor/huma/v2"
)

// FromHuma renders the OpenAPI document of a huma API.
func FromHuma(api huma.API) (*Document, error) {
	data, err := api.OpenAPI().MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate OpenAPI JSON")
	}
	return Parse(data)
}
