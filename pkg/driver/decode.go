package driver

import (
	"encoding/json"
	"fmt"
)

// decodeCodeArgument normalizes tool-call arguments to a code string.
//
// Arguments usually arrive as a JSON object with a "code" field. Some
// backends hand the code over as a bare string instead; that raw string
// is passed through verbatim. A JSON object without a usable "code"
// field is a decoding error.
func decodeCodeArgument(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("tool arguments are empty")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		// Not a JSON object: treat the raw string as the code itself.
		return raw, nil
	}

	codeRaw, ok := obj["code"]
	if !ok {
		return "", fmt.Errorf("tool arguments missing \"code\" field: %s", raw)
	}

	var code string
	if err := json.Unmarshal(codeRaw, &code); err != nil {
		return "", fmt.Errorf("tool argument \"code\" is not a string: %s", codeRaw)
	}
	return code, nil
}
