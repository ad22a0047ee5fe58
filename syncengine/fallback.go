package syncengine

import "github.com/marcus/synckit/entity"

// rawFallback is the "temporary entity for queue fallback" from spec §9: a
// minimal SyncEntity carrying only id, table, timestamps, and the raw
// payload, used when a row's registered factory fails to materialize it.
// It satisfies the same contract as domain entities for the push path
// without ever decoding domain fields.
type rawFallback struct {
	entity.Base
	rawPayload []byte
}

func (r rawFallback) Touch(now int64) entity.SyncEntity {
	r.Base = entity.TouchBase(r.Base, now)
	return r
}

func (r rawFallback) MarshalJSON() ([]byte, error) {
	if len(r.rawPayload) > 0 {
		return r.rawPayload, nil
	}
	return []byte("{}"), nil
}

func newRawFallback(table, id string, createdAt, updatedAt int64, payload []byte) rawFallback {
	return rawFallback{
		Base: entity.Base{
			IDValue:        id,
			Table:          table,
			CreatedAtValue: createdAt,
			UpdatedAtValue: updatedAt,
		},
		rawPayload: payload,
	}
}
