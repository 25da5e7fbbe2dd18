package monofs

import "github.com/monocore-go/monocore/internal/codec/cborcanon"

func unmarshalProbe(data []byte, out interface{}) error {
	return cborcanon.Unmarshal(data, out)
}
