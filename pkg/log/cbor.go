package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Trace files are a bare sequence of CBOR-encoded Events. Encoding is
// canonical; decoding is bounded because trace files are read back by
// operator tools from wherever they were copied to.
var (
	traceEncMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})
	traceDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  8,
		MaxMapPairs:      64,
		MaxArrayElements: 1024,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace CBOR encoder mode: %v", err))
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace CBOR decoder mode: %v", err))
	}
	return m
}

// marshalEvent returns the trace record of one event.
func marshalEvent(e Event) ([]byte, error) {
	return traceEncMode.Marshal(e)
}

func newEventDecoder(r io.Reader) *cbor.Decoder {
	return traceDecMode.NewDecoder(r)
}
