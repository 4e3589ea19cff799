// Package hash derives Argon2i password hashes from a caller-supplied salt.
// The same password and salt always produce the same PHC string, which lets
// stored hashes be compared byte for byte.
package hash

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	defaultTime    uint32 = 3
	defaultMemory  uint32 = 4096 // KiB
	defaultThreads uint8  = 1
	defaultKeyLen  uint32 = 32
	phcAlg                = "argon2i"
	phcVersion            = 19
)

var ErrEmptySalt = errors.New("hash: empty salt")

// HashPassword returns
// $argon2i$v=19$m=4096,t=3,p=1$<saltB64>$<hashB64>
func HashPassword(plain string, salt []byte) (string, error) {
	if len(salt) == 0 {
		return "", ErrEmptySalt
	}
	sum := argon2.Key([]byte(plain), salt, defaultTime, defaultMemory, defaultThreads, defaultKeyLen)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlg, phcVersion, defaultMemory, defaultTime, defaultThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Equal compares two encoded hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifyPassword re-derives plain with the parameters and salt encoded in
// phc. Parameters other than the defaults are honoured.
func VerifyPassword(phc, plain string) bool {
	params, salt, sum, err := parsePHC(phc)
	if err != nil {
		return false
	}
	calc := argon2.Key([]byte(plain), salt, params.time, params.memory, params.threads, uint32(len(sum)))
	return subtle.ConstantTimeCompare(calc, sum) == 1
}

type phcParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func parsePHC(phc string) (phcParams, []byte, []byte, error) {
	if !strings.HasPrefix(phc, "$") {
		return phcParams{}, nil, nil, errors.New("invalid phc: missing prefix")
	}
	parts := strings.Split(phc, "$")
	if len(parts) != 6 {
		return phcParams{}, nil, nil, errors.New("invalid phc: parts")
	}
	if parts[1] != phcAlg {
		return phcParams{}, nil, nil, fmt.Errorf("unsupported alg: %s", parts[1])
	}
	v, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || err != nil || v != phcVersion {
		return phcParams{}, nil, nil, fmt.Errorf("unsupported version: %s", parts[2])
	}
	var pp phcParams
	for _, kv := range strings.Split(parts[3], ",") {
		k, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "m":
			if n, err := strconv.ParseUint(val, 10, 32); err == nil {
				pp.memory = uint32(n)
			}
		case "t":
			if n, err := strconv.ParseUint(val, 10, 32); err == nil {
				pp.time = uint32(n)
			}
		case "p":
			if n, err := strconv.ParseUint(val, 10, 8); err == nil {
				pp.threads = uint8(n)
			}
		}
	}
	// bound memory so a hostile record cannot exhaust the device
	if pp.memory == 0 || pp.memory > 256*1024 || pp.time == 0 || pp.time > 16 || pp.threads == 0 {
		return phcParams{}, nil, nil, errors.New("invalid phc: params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return phcParams{}, nil, nil, errors.New("invalid phc: salt")
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 || len(sum) > 128 {
		return phcParams{}, nil, nil, errors.New("invalid phc: hash")
	}
	return pp, salt, sum, nil
}
