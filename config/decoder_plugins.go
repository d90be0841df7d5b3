package config

import (
	"fmt"

	"github.com/dryyun/dbpool/dbconn"
)

// ResolveDecoder maps a properties-file "decoder" option value to a
// concrete dbconn.PasswordDecoder. An empty name means no decoding
// (the password is used as-is), matching the original's "no decoder
// configured" default. This is the Go analogue of instantiating the
// fully-qualified decoder class named in the properties file, without
// requiring Go's lack of reflection-based class loading: the set of
// plugins is a fixed, named registry instead.
func ResolveDecoder(name string) (dbconn.PasswordDecoder, error) {
	switch name {
	case "":
		return nil, nil
	case "rot13":
		return dbconn.RotDecoder{}, nil
	default:
		return nil, fmt.Errorf("config: unknown decoder plugin %q", name)
	}
}

// ResolveValidator maps a properties-file "validator" option value to
// a concrete dbconn.Validator. An empty name means the pool never
// rejects a session on validation, matching the original's "no
// validator configured" default (isValid() always true).
func ResolveValidator(name string) (dbconn.Validator, error) {
	switch name {
	case "":
		return nil, nil
	case "ping":
		return dbconn.DefaultValidator{}, nil
	case "autocommit":
		return dbconn.AutoCommitValidator{}, nil
	default:
		return nil, fmt.Errorf("config: unknown validator plugin %q", name)
	}
}
