package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - cycles (c:) and file attempts (f:)
const CurrentSchemaVersion = 1

const schemaKey = prefixMeta + "__schema__"

// ErrNewerSchema is returned when the journal was written by a newer agent.
var ErrNewerSchema = errors.New("journal schema is newer than this binary")

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the stored schema, or nil if none is set.
func (j *Journal) GetSchema() *Schema {
	var schema *Schema

	_ = j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})

	return schema
}

func (j *Journal) ensureSchema() error {
	schema := j.GetSchema()
	switch {
	case schema == nil:
		data, err := json.Marshal(Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()})
		if err != nil {
			return err
		}
		return j.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(schemaKey), data)
		})
	case schema.Version > CurrentSchemaVersion:
		return fmt.Errorf("%w: %d > %d", ErrNewerSchema, schema.Version, CurrentSchemaVersion)
	}
	return nil
}
