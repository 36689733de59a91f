package loader

import (
	"bytes"
	"errors"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// decodeTOML parses TOML data into v. Unknown keys are rejected so typos in
// section or field names surface at startup.
func decodeTOML(source string, data []byte, v any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}

		var decErr *toml.DecodeError
		var strictErr *toml.StrictMissingError
		switch {
		case errors.As(err, &decErr):
			perr.Line, perr.Column = decErr.Position()
		case errors.As(err, &strictErr) && len(strictErr.Errors) > 0:
			first := strictErr.Errors[0]
			perr.Line, perr.Column = first.Position()
			perr.Message = "unknown key " + strings.Join(first.Key(), ".")
		}
		return perr
	}
	return nil
}
