// Package orderref encodes a purchase into checkout session metadata and
// decodes it back when the payment notification arrives. The metadata is the
// only durable record of what was bought.
package orderref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	KeyFullPack = "full_pack"
	KeyLoops    = "loops"

	fullPackMarker = "1"
	separator      = ","

	// Stripe metadata limits.
	MaxValueLength = 500
	MaxChunks      = 40
)

var (
	ErrEmptyPurchase = errors.New("purchase has no items")
	ErrInvalidID     = errors.New("item id cannot be encoded")
	ErrTooManyItems  = errors.New("too many items for checkout metadata")
)

// Purchase is either the full pack or an explicit list of item ids.
type Purchase struct {
	FullPack bool
	IDs      []string
}

func FullPack() Purchase {
	return Purchase{FullPack: true}
}

func Loops(ids ...string) Purchase {
	return Purchase{IDs: ids}
}

func (p Purchase) Empty() bool {
	return !p.FullPack && len(p.IDs) == 0
}

func chunkKey(n int) string {
	if n == 1 {
		return KeyLoops
	}
	return KeyLoops + "_" + strconv.Itoa(n)
}

func Encode(p Purchase) (map[string]string, error) {
	if p.FullPack {
		return map[string]string{KeyFullPack: fullPackMarker}, nil
	}
	if len(p.IDs) == 0 {
		return nil, ErrEmptyPurchase
	}

	md := make(map[string]string)
	var current strings.Builder
	n := 1

	for _, id := range p.IDs {
		if id == "" || strings.Contains(id, separator) || len(id) > MaxValueLength {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
		}

		extra := len(id)
		if current.Len() > 0 {
			extra += len(separator)
		}
		if current.Len()+extra > MaxValueLength {
			md[chunkKey(n)] = current.String()
			current.Reset()
			n++
			if n > MaxChunks {
				return nil, fmt.Errorf("%w: %d ids", ErrTooManyItems, len(p.IDs))
			}
		}
		if current.Len() > 0 {
			current.WriteString(separator)
		}
		current.WriteString(id)
	}
	md[chunkKey(n)] = current.String()

	return md, nil
}

// Decode never fails. Metadata it does not recognise yields an empty purchase.
func Decode(md map[string]string) Purchase {
	if md[KeyFullPack] == fullPackMarker {
		return FullPack()
	}

	var ids []string
	for n := 1; n <= MaxChunks; n++ {
		value, ok := md[chunkKey(n)]
		if !ok {
			break
		}
		for _, token := range strings.Split(value, separator) {
			if token != "" {
				ids = append(ids, token)
			}
		}
	}
	return Purchase{IDs: ids}
}
