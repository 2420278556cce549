// Package ferrors defines the error-kind taxonomy shared by every
// framebucket component, so callers can branch on errors.Is(err, Kind)
// instead of matching on message text.
package ferrors

import "errors"

// Kind tags an error with the component that produced it.
type Kind error

var (
	ConfigLoad         Kind = errors.New("config load")
	FrameParse         Kind = errors.New("frame parse")
	ImageDecode        Kind = errors.New("image decode")
	EncoderSpawn       Kind = errors.New("encoder spawn")
	EncoderWrite       Kind = errors.New("encoder write")
	EncoderNonZeroExit Kind = errors.New("encoder non-zero exit")
	StorePut           Kind = errors.New("store put")
	StoreGet           Kind = errors.New("store get")
	StoreDelete        Kind = errors.New("store delete")
	StoreList          Kind = errors.New("store list")
	ArchivePut         Kind = errors.New("archive put")
	IndexQuery         Kind = errors.New("index query")
	IndexWrite         Kind = errors.New("index write")
	BusConsume         Kind = errors.New("bus consume")
)

// Wrap ties cause to kind so errors.Is(Wrap(kind, cause), kind) is true
// while still exposing cause via errors.Unwrap.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &tagged{kind: kind, cause: cause}
}

type tagged struct {
	kind  Kind
	cause error
}

func (t *tagged) Error() string { return t.kind.Error() + ": " + t.cause.Error() }
func (t *tagged) Unwrap() error { return t.cause }
func (t *tagged) Is(target error) bool {
	return target == t.kind
}
