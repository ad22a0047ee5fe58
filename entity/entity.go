// Package entity defines the shape every syncable record exposes to the
// engine. The engine never reasons about domain fields directly — it reads
// and writes through this interface, the same way the teacher's sync
// package treats every table as entity_type + entity_id + opaque payload.
package entity

// SyncEntity is implemented by every domain type that participates in sync.
// Implementations are typically small wrapper structs embedding Base and
// adding their own JSON-tagged fields; the engine only ever touches the
// fields below plus the entity's TableName.
type SyncEntity interface {
	// ID returns the entity's stable primary key. Never empty for a
	// persisted entity.
	ID() string

	// TableName identifies both the local storage table and the remote
	// sync endpoint (e.g. "todos" syncs against "/todos").
	TableName() string

	// CreatedAt and UpdatedAt are monotonic millisecond epoch timestamps.
	// UpdatedAt is always >= CreatedAt.
	CreatedAt() int64
	UpdatedAt() int64

	// SyncedAt is the timestamp of the last successful push or pull for
	// this row, or nil if the entity has never synced.
	SyncedAt() *int64

	// Version increases monotonically; used for conflict detection when
	// timestamps alone don't disambiguate concurrent edits.
	Version() int64

	// IsDeleted reports whether this entity is a tombstone. Tombstoned
	// entities remain queryable until hard-deleted.
	IsDeleted() bool

	// Metadata is an opaque string-keyed bag passed through verbatim by
	// the codec and the engine.
	Metadata() map[string]any

	// Touch returns a copy of the entity with UpdatedAt bumped to now,
	// SyncedAt cleared, and Version incremented by one. Implementations
	// must not mutate the receiver.
	Touch(nowMillis int64) SyncEntity
}

// Factory constructs a concrete SyncEntity from its decoded field map.
// Registered per table name; invoked by the codec during materialize.
type Factory func(fields map[string]any) (SyncEntity, error)

// Base is an embeddable implementation of the bookkeeping fields every
// SyncEntity needs. Concrete entity types embed Base and add their own
// domain fields plus a Touch override that preserves those fields.
type Base struct {
	IDValue        string         `json:"id"`
	Table          string         `json:"-"`
	CreatedAtValue int64          `json:"created_at"`
	UpdatedAtValue int64          `json:"updated_at"`
	SyncedAtValue  *int64         `json:"synced_at,omitempty"`
	VersionValue   int64          `json:"version"`
	Deleted        bool           `json:"is_deleted"`
	MetadataValue  map[string]any `json:"metadata,omitempty"`
}

func (b Base) ID() string               { return b.IDValue }
func (b Base) TableName() string        { return b.Table }
func (b Base) CreatedAt() int64         { return b.CreatedAtValue }
func (b Base) UpdatedAt() int64         { return b.UpdatedAtValue }
func (b Base) SyncedAt() *int64         { return b.SyncedAtValue }
func (b Base) Version() int64           { return b.VersionValue }
func (b Base) IsDeleted() bool          { return b.Deleted }
func (b Base) Metadata() map[string]any { return b.MetadataValue }

// TouchBase returns the bookkeeping-field update applied by every Touch
// implementation: bump UpdatedAt, clear SyncedAt, bump Version. Concrete
// entity Touch methods call this to get the new Base before copying their
// own fields across.
func TouchBase(b Base, nowMillis int64) Base {
	b.UpdatedAtValue = nowMillis
	b.SyncedAtValue = nil
	b.VersionValue++
	return b
}
