package wireless

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidSettings = errors.New("invalid wireless settings")

// Change is a settings-form submission. Source credentials are used for
// the upstream connection only and are not persisted.
type Change struct {
	SourceSSID     string `json:"source_ssid"`
	SourcePassword string `json:"source_password"`
	APSSID         string `json:"ap_ssid"`
	APPassword     string `json:"ap_password"`
	APInterface    string `json:"ap_interface"`
}

const changeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["ap_ssid", "ap_password"],
  "properties": {
    "ap_ssid":         {"type": "string", "minLength": 1, "maxLength": 32},
    "ap_password":     {"type": "string", "minLength": 8, "maxLength": 63},
    "ap_interface":    {"type": "string", "pattern": "^([A-Za-z0-9_.-]{1,15})?$"},
    "source_ssid":     {"type": "string", "maxLength": 32},
    "source_password": {
      "type": "string",
      "oneOf": [{"maxLength": 0}, {"minLength": 8, "maxLength": 63}]
    }
  }
}`

var changeSchemaLoader = gojsonschema.NewStringLoader(changeSchema)

// Validate checks c against the settings schema.
func (c Change) Validate() error {
	res, err := gojsonschema.Validate(changeSchemaLoader, gojsonschema.NewGoLoader(c))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if res.Valid() {
		return nil
	}
	var problems []string
	for _, e := range res.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
}
